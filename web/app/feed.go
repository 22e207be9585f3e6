package app

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/a-h/templ"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/narvanalabs/build-feed/internal/feed"
	"github.com/narvanalabs/build-feed/web/api"
	"github.com/narvanalabs/build-feed/web/layouts"
	"github.com/narvanalabs/build-feed/web/pages"
)

const keepAlive = 15 * time.Second

func (a *App) render(w http.ResponseWriter, r *http.Request, status int, c templ.Component) {
	var buf bytes.Buffer
	if err := c.Render(r.Context(), &buf); err != nil {
		a.logger.Error("failed to render page", "error", err, "path", r.URL.Path)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	w.Write(buf.Bytes())
}

// pageScope reads the scope form of the feed page. Anything unusable falls
// back to the configured default.
func (a *App) pageScope(q url.Values) feed.Scope {
	if q.Get("type") == "" {
		return a.cfg.Scope
	}
	s, err := formScope(q)
	if err != nil {
		return a.cfg.Scope
	}
	return s
}

// formScope parses the scope form: a type plus one free text value.
func formScope(q url.Values) (feed.Scope, error) {
	value := strings.TrimSpace(q.Get("value"))
	var s feed.Scope
	switch t := q.Get("type"); t {
	case feed.ScopeLatest:
		return feed.LatestScope(), nil
	case feed.ScopeBranch:
		s = feed.Scope{Type: feed.ScopeBranch, Branch: value}
	case feed.ScopePR:
		pr, err := strconv.Atoi(strings.TrimPrefix(value, "#"))
		if err != nil {
			return feed.Scope{}, fmt.Errorf("%w: pr must be a number", feed.ErrInvalidScope)
		}
		s = feed.Scope{Type: feed.ScopePR, PR: pr}
	case feed.ScopeCommit:
		s = feed.Scope{Type: feed.ScopeCommit, Commit: value}
	default:
		s = feed.Scope{Type: t}
	}
	if err := s.Validate(); err != nil {
		return feed.Scope{}, err
	}
	return s, nil
}

func (a *App) handleFeedPage(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r.Context())
	a.render(w, r, http.StatusOK, pages.Feed(pages.FeedData{
		Nav:   layouts.Nav{UserName: user.Name, UserEmail: user.Email},
		Scope: a.pageScope(r.URL.Query()),
	}))
}

// handleFeedStream runs one synchronizer for the lifetime of the request and
// pushes the rendered list after every state change. The first event names
// the session for load-more requests.
func (a *App) handleFeedStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	scope := a.cfg.Scope
	if r.URL.Query().Get("type") != "" {
		parsed, err := feed.ParseScope(r.URL.Query())
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		scope = parsed
	}

	user := userFrom(r.Context())
	id := uuid.NewString()
	log := a.logger.With("session", id, "user_id", user.ID)

	svc := api.NewBuildsService(a.client.WithToken(tokenFrom(r.Context())), log)
	sync := feed.New(svc,
		feed.WithLogger(log),
		feed.WithRecorder(a.metrics),
		feed.WithLimit(a.cfg.Limit),
	)
	a.sessions.Add(id, user.ID, sync)
	defer func() {
		a.sessions.Remove(id)
		sync.Teardown()
		log.Info("feed stream closed")
	}()

	if err := sync.Initialize(scope); err != nil {
		http.Error(w, "feed unavailable", http.StatusInternalServerError)
		return
	}
	log.Info("feed stream opened", "scope", scope.Type)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if err := writeEvent(w, "session", id); err != nil {
		return
	}
	flusher.Flush()

	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()

	var buf bytes.Buffer
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if _, err := io.WriteString(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case st, ok := <-sync.Updates():
			if !ok {
				return
			}
			buf.Reset()
			if err := pages.FeedList(st, id, time.Now()).Render(r.Context(), &buf); err != nil {
				log.Error("failed to render feed", "error", err)
				return
			}
			if err := writeEvent(w, "feed", buf.String()); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// writeEvent writes one server-sent event, splitting data over data lines.
func writeEvent(w io.Writer, event, data string) error {
	var b strings.Builder
	b.WriteString("event: " + event + "\n")
	for _, line := range strings.Split(data, "\n") {
		b.WriteString("data: " + line + "\n")
	}
	b.WriteString("\n")
	_, err := io.WriteString(w, b.String())
	return err
}

// handleLoadMore asks the session's synchronizer for the next page. The new
// list arrives on the stream.
func (a *App) handleLoadMore(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r.Context())
	sync, ok := a.sessions.Get(chi.URLParam(r, "session"), user.ID)
	if !ok {
		http.Error(w, "unknown feed session", http.StatusNotFound)
		return
	}

	started, err := sync.LoadMore()
	if err != nil {
		http.Error(w, "feed closed", http.StatusGone)
		return
	}
	if !started {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// handleScope moves the session's feed to the posted scope. The reset list
// arrives on the stream; an unchanged scope is a no-op.
func (a *App) handleScope(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r.Context())
	sync, ok := a.sessions.Get(chi.URLParam(r, "session"), user.ID)
	if !ok {
		http.Error(w, "unknown feed session", http.StatusNotFound)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}

	scope := a.cfg.Scope
	if r.Form.Get("type") != "" {
		parsed, err := formScope(r.Form)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		scope = parsed
	}

	changed, err := sync.Reconfigure(scope)
	if err != nil {
		http.Error(w, "feed closed", http.StatusGone)
		return
	}
	if !changed {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	a.logger.Debug("feed scope changed", "session", chi.URLParam(r, "session"), "scope", scope.Type)
	w.WriteHeader(http.StatusAccepted)
}
