// Package pages renders the dashboard pages.
package pages

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	twmerge "github.com/Oudwins/tailwind-merge-go"
	"github.com/a-h/templ"

	"github.com/narvanalabs/build-feed/internal/feed"
	"github.com/narvanalabs/build-feed/internal/models"
	"github.com/narvanalabs/build-feed/web/layouts"
)

// FeedData is the state of the feed page shell.
type FeedData struct {
	Nav   layouts.Nav
	Scope feed.Scope
}

const badgeBase = "inline-flex items-center rounded-full px-2 py-0.5 text-xs font-medium bg-gray-100 text-gray-700"

var badgeByStatus = map[string]string{
	"queued":    "bg-gray-100 text-gray-600",
	"running":   "bg-amber-100 text-amber-800 animate-pulse",
	"passing":   "bg-green-100 text-green-800",
	"failing":   "bg-red-100 text-red-800",
	"cancelled": "bg-gray-200 text-gray-500 line-through",
}

// BadgeClass returns the merged tailwind classes for a status badge. Unknown
// statuses keep the neutral base.
func BadgeClass(status string, extra ...string) string {
	return twmerge.Merge(append([]string{badgeBase, badgeByStatus[status]}, extra...)...)
}

// StatusBadge renders a status pill.
func StatusBadge(status string) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		_, err := io.WriteString(w, badge(status))
		return err
	})
}

func badge(status string) string {
	return `<span class="status ` + templ.EscapeString(BadgeClass(status)) + `">` + templ.EscapeString(status) + `</span>`
}

// Duration formats the time between start and end, running up to now while
// end is unset. It is empty before start.
func Duration(start, end *time.Time, now time.Time) string {
	if start == nil {
		return ""
	}
	stop := now
	if end != nil {
		stop = *end
	}
	d := stop.Sub(*start)
	if d < 0 {
		d = 0
	}
	d = d.Round(time.Second)
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	return fmt.Sprintf("%dm %02ds", int(d.Minutes()), int(d.Seconds())%60)
}

// Feed renders the feed page. The list itself arrives over the event stream.
func Feed(data FeedData) templ.Component {
	return layouts.Base("Builds", &data.Nav, feedShell(data.Scope))
}

func feedShell(scope feed.Scope) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		scope = scope.Normalize()
		value := ""
		switch scope.Type {
		case feed.ScopeBranch:
			value = scope.Branch
		case feed.ScopePR:
			value = strconv.Itoa(scope.PR)
		case feed.ScopeCommit:
			value = scope.Commit
		}

		var b strings.Builder
		b.WriteString(`<form method="GET" action="/" class="scope-form mb-6 flex gap-2">`)
		b.WriteString(`<select name="type" class="rounded border px-2 py-1">`)
		for _, t := range []string{feed.ScopeLatest, feed.ScopeBranch, feed.ScopePR, feed.ScopeCommit} {
			sel := ""
			if t == scope.Type {
				sel = " selected"
			}
			b.WriteString(`<option value="` + t + `"` + sel + `>` + t + `</option>`)
		}
		b.WriteString(`</select>`)
		b.WriteString(`<input name="value" class="flex-1 rounded border px-2 py-1" placeholder="branch, PR number or commit" value="` +
			templ.EscapeString(value) + `">`)
		b.WriteString(`<button type="submit" class="rounded bg-gray-900 px-3 py-1 text-white">Show</button></form>`)

		stream := "/feed/stream?" + scope.Values().Encode()
		b.WriteString(`<div id="feed" data-stream="` + templ.EscapeString(stream) + `">` +
			`<p class="text-sm text-gray-500">Loading builds…</p></div>`)
		b.WriteString(feedScript)

		_, err := io.WriteString(w, b.String())
		return err
	})
}

const feedScript = `<script>(function(){
var el=document.getElementById('feed');
var src=new EventSource(el.dataset.stream);
var session='';
src.addEventListener('session',function(e){session=e.data;});
src.addEventListener('feed',function(e){el.innerHTML=e.data;});
document.querySelector('.scope-form').addEventListener('submit',function(e){
if(!session)return;
e.preventDefault();
var q=new URLSearchParams(new FormData(e.target));
fetch('/feed/'+session+'/scope',{method:'POST',credentials:'same-origin',body:q}).then(function(r){
if(r.ok)history.replaceState(null,'','/?'+q.toString());else e.target.submit();
});
});
el.addEventListener('click',function(e){
var btn=e.target.closest('[data-more]');if(!btn)return;
btn.disabled=true;
fetch(btn.dataset.more,{method:'POST',credentials:'same-origin'});
});
window.addEventListener('beforeunload',function(){src.close();});
})();</script>`

// FeedList renders the list fragment pushed on every state change. session
// addresses the "load more" endpoint of the stream that produced state.
func FeedList(state feed.State, session string, now time.Time) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		_, err := io.WriteString(w, renderList(state, session, now))
		return err
	})
}

func renderList(state feed.State, session string, now time.Time) string {
	var b strings.Builder

	if state.Error != "" {
		b.WriteString(`<p class="feed-error mb-4 rounded bg-red-50 px-3 py-2 text-sm text-red-700">` +
			templ.EscapeString(state.Error) + `</p>`)
	}
	if len(state.Builds) == 0 && !state.FetchingBuilds {
		b.WriteString(`<p class="feed-empty text-sm text-gray-500">No builds yet.</p>`)
	}

	b.WriteString(`<ul class="builds space-y-3">`)
	for _, build := range state.Builds {
		renderBuild(&b, build, now)
	}
	b.WriteString(`</ul>`)

	switch {
	case state.FetchingBuilds:
		b.WriteString(`<p class="feed-loading mt-4 text-sm text-gray-500">Loading builds…</p>`)
	case !state.Exhausted:
		disabled := ""
		label := "Load more"
		if state.FetchingMore {
			disabled = " disabled"
			label = "Loading…"
		}
		b.WriteString(`<button class="load-more mt-4 w-full rounded border bg-white py-2 text-sm" data-more="/feed/` +
			templ.EscapeString(session) + `/more"` + disabled + `>` + label + `</button>`)
	}
	return b.String()
}

func renderBuild(b *strings.Builder, build models.Build, now time.Time) {
	id := strconv.FormatUint(build.ID, 10)
	b.WriteString(`<li class="build rounded-lg border bg-white p-4" data-build-id="` + id + `">`)
	b.WriteString(`<div class="flex items-center justify-between"><div>`)
	b.WriteString(`<span class="font-mono text-sm text-gray-500">#` + id + `</span> `)
	b.WriteString(`<span class="branch font-medium">` + templ.EscapeString(build.Branch) + `</span>`)
	if build.PR > 0 {
		b.WriteString(` <span class="pr text-sm text-gray-500">PR #` + strconv.Itoa(build.PR) + `</span>`)
	}
	commit := build.Commit
	if len(commit) > 7 {
		commit = commit[:7]
	}
	b.WriteString(` <span class="commit font-mono text-xs text-gray-400">` + templ.EscapeString(commit) + `</span>`)
	if build.Message != "" {
		b.WriteString(`<p class="message text-sm text-gray-600">` + templ.EscapeString(build.Message) + `</p>`)
	}
	b.WriteString(`</div><div class="flex items-center gap-2">`)
	if d := Duration(build.StartTime, build.EndTime, now); d != "" {
		b.WriteString(`<span class="duration text-xs text-gray-500">` + d + `</span>`)
	}
	b.WriteString(badge(string(build.Status)))
	b.WriteString(`</div></div>`)

	b.WriteString(`<ul class="jobs mt-3 divide-y text-sm">`)
	for _, job := range build.Jobs {
		b.WriteString(`<li class="job flex items-center justify-between py-1" data-job-id="` +
			strconv.FormatUint(job.ID, 10) + `"><span>` + templ.EscapeString(job.Image))
		if job.Env != "" {
			b.WriteString(` <span class="env font-mono text-xs text-gray-400">` + templ.EscapeString(job.Env) + `</span>`)
		}
		b.WriteString(`</span><span class="flex items-center gap-2">`)
		if d := Duration(job.StartTime, job.EndTime, now); d != "" {
			b.WriteString(`<span class="duration text-xs text-gray-500">` + d + `</span>`)
		}
		b.WriteString(badge(string(job.Status)) + `</span></li>`)
	}
	b.WriteString(`</ul></li>`)
}
