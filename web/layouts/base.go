// Package layouts holds the page chrome shared by the dashboard pages.
package layouts

import (
	"context"
	"io"

	"github.com/a-h/templ"
)

// Nav is the header state of an authenticated page.
type Nav struct {
	UserName  string
	UserEmail string
}

// DisplayName is what the header shows for the user.
func (n Nav) DisplayName() string {
	if n.UserName != "" {
		return n.UserName
	}
	return n.UserEmail
}

const head = `<!DOCTYPE html><html lang="en"><head><meta charset="utf-8">` +
	`<meta name="viewport" content="width=device-width, initial-scale=1">` +
	`<script src="https://cdn.tailwindcss.com"></script>`

// Base wraps body in the document shell. A nil nav renders the bare layout
// used by the login page.
func Base(title string, nav *Nav, body templ.Component) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if _, err := io.WriteString(w, head+"<title>"+templ.EscapeString(title)+" · Builds</title></head>"+
			`<body class="min-h-screen bg-gray-50 text-gray-900">`); err != nil {
			return err
		}
		if nav != nil {
			if err := header(*nav).Render(ctx, w); err != nil {
				return err
			}
		}
		if _, err := io.WriteString(w, `<main class="mx-auto max-w-4xl px-4 py-8">`); err != nil {
			return err
		}
		if err := body.Render(ctx, w); err != nil {
			return err
		}
		_, err := io.WriteString(w, `</main></body></html>`)
		return err
	})
}

// header renders the top bar. The user menu is a details element so it opens
// without script; Logout is always its last entry.
func header(nav Nav) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		_, err := io.WriteString(w,
			`<header class="border-b bg-white"><div class="mx-auto flex max-w-4xl items-center justify-between px-4 py-3">`+
				`<a href="/" class="text-lg font-semibold">Builds</a>`+
				`<details class="user-menu relative">`+
				`<summary class="user-item cursor-pointer list-none rounded px-3 py-1 hover:bg-gray-100">`+
				templ.EscapeString(nav.DisplayName())+`</summary>`+
				`<nav class="nav-dropdown absolute right-0 mt-2 w-48 rounded border bg-white shadow">`+
				`<span class="block px-4 py-2 text-xs text-gray-500">`+templ.EscapeString(nav.UserEmail)+`</span>`+
				`<a class="nav-dropdown-item block px-4 py-2 hover:bg-gray-100" href="/">Latest builds</a>`+
				`<a class="nav-dropdown-item block px-4 py-2 hover:bg-gray-100" href="/logout">Logout</a>`+
				`</nav></details></div></header>`)
		return err
	})
}
