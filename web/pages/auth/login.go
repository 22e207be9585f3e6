// Package auth renders the sign-in page.
package auth

import (
	"context"
	"io"

	"github.com/a-h/templ"

	"github.com/narvanalabs/build-feed/web/layouts"
)

// LoginData is the state of the login form.
type LoginData struct {
	Email string
	Error string
}

// Login renders the sign-in form posting to /login.
func Login(data LoginData) templ.Component {
	return layouts.Base("Sign in", nil, loginForm(data))
}

func loginForm(data LoginData) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		out := `<div class="mx-auto mt-16 max-w-sm rounded-lg border bg-white p-8 shadow-sm">` +
			`<h1 class="mb-6 text-xl font-semibold">Sign in</h1>`
		if data.Error != "" {
			out += `<p class="login-error mb-4 rounded bg-red-50 px-3 py-2 text-sm text-red-700">` +
				templ.EscapeString(data.Error) + `</p>`
		}
		out += `<form method="POST" action="/login" class="space-y-4">` +
			`<label class="block text-sm">Email` +
			`<input class="form-input mt-1 block w-full rounded border px-3 py-2" type="email" name="email" autocomplete="username" required value="` +
			templ.EscapeString(data.Email) + `"></label>` +
			`<label class="block text-sm">Password` +
			`<input class="form-input mt-1 block w-full rounded border px-3 py-2" type="password" name="password" autocomplete="current-password" required></label>` +
			`<button type="submit" class="login-button w-full rounded bg-gray-900 px-4 py-2 text-white">Sign in</button>` +
			`</form></div>`
		_, err := io.WriteString(w, out)
		return err
	})
}
