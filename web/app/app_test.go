package app

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	apiserver "github.com/narvanalabs/build-feed/internal/api"
	"github.com/narvanalabs/build-feed/internal/auth"
	"github.com/narvanalabs/build-feed/internal/events"
	"github.com/narvanalabs/build-feed/internal/feed"
	"github.com/narvanalabs/build-feed/internal/metrics"
	"github.com/narvanalabs/build-feed/internal/store/memory"
	"github.com/narvanalabs/build-feed/pkg/config"
	"github.com/narvanalabs/build-feed/web/api"
)

const waitFor = 3 * time.Second

type dashboard struct {
	app    *App
	web    *httptest.Server
	api    *api.Client
	broker *events.Broker
}

func newDashboard(t *testing.T) *dashboard {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := memory.New(logger)
	st.Users().(*memory.UserStore).SetCost(bcrypt.MinCost)
	_, err := st.Users().Create(context.Background(), "john@gmail.com", "test123", "John")
	require.NoError(t, err)

	cfg := config.LoadWithDefaults()
	authSvc := auth.NewService(&auth.Config{JWTSecret: []byte(cfg.JWTSecret), TokenExpiry: time.Hour}, st.Users(), logger)
	broker := events.NewBroker(logger)
	apiSrv := httptest.NewServer(apiserver.NewServer(cfg, apiserver.Deps{
		Store:  st,
		Auth:   authSvc,
		Broker: broker,
	}, logger).Router())

	client := api.NewClient(apiSrv.URL)
	a := New(Config{Scope: feed.LatestScope(), Limit: 3}, client, metrics.New(nil), logger)
	web := httptest.NewServer(a.Handler())

	t.Cleanup(func() {
		a.Teardown()
		web.Close()
		apiSrv.Close()
		broker.Close()
	})

	token, err := client.Login(context.Background(), "john@gmail.com", "test123")
	require.NoError(t, err)

	return &dashboard{app: a, web: web, api: client.WithToken(token), broker: broker}
}

// browser returns a client that keeps cookies and does not follow redirects.
func (d *dashboard) browser(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &http.Client{
		Jar: jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func (d *dashboard) login(t *testing.T, c *http.Client, email, password string) *http.Response {
	t.Helper()
	resp, err := c.PostForm(d.web.URL+"/login", url.Values{"email": {email}, "password": {password}})
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func get(t *testing.T, c *http.Client, u string) *http.Response {
	t.Helper()
	resp, err := c.Get(u)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func body(t *testing.T, resp *http.Response) string {
	t.Helper()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(data)
}

func TestLoginWithWrongCredentialsStaysOnLogin(t *testing.T) {
	d := newDashboard(t)
	c := d.browser(t)

	resp := d.login(t, c, "john@gmail.com", "wrong")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	page := body(t, resp)
	assert.Contains(t, page, "Invalid credentials")
	assert.Contains(t, page, `action="/login"`)
	assert.Contains(t, page, `value="john@gmail.com"`)

	u, _ := url.Parse(d.web.URL)
	assert.Empty(t, c.Jar.Cookies(u))
}

func TestLoginAndLogout(t *testing.T) {
	d := newDashboard(t)
	c := d.browser(t)

	resp := d.login(t, c, "john@gmail.com", "test123")
	require.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/", resp.Header.Get("Location"))

	resp = get(t, c, d.web.URL+"/")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	page := body(t, resp)
	assert.Contains(t, page, `class="user-item`)
	assert.Contains(t, page, ">John<")
	last := strings.LastIndex(page, "nav-dropdown-item")
	require.Positive(t, last)
	assert.Contains(t, page[last:], `href="/logout"`)

	// Signed in: the login page sends the browser home.
	resp = get(t, c, d.web.URL+"/login")
	assert.Equal(t, http.StatusFound, resp.StatusCode)

	resp = get(t, c, d.web.URL+"/logout")
	require.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/login", resp.Header.Get("Location"))

	resp = get(t, c, d.web.URL+"/")
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/login", resp.Header.Get("Location"))
}

func TestRejectedSessionIsCleared(t *testing.T) {
	d := newDashboard(t)
	c := d.browser(t)

	u, _ := url.Parse(d.web.URL)
	c.Jar.SetCookies(u, []*http.Cookie{{Name: AuthCookie, Value: "forged", Path: "/"}})

	resp := get(t, c, d.web.URL+"/")
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/login", resp.Header.Get("Location"))
	assert.Empty(t, c.Jar.Cookies(u))
}

type sse struct {
	event string
	data  string
}

// readEvents parses the stream on a goroutine until the body is closed.
func readEvents(r io.Reader) <-chan sse {
	out := make(chan sse, 16)
	go func() {
		defer close(out)
		sc := bufio.NewScanner(r)
		sc.Buffer(make([]byte, 64<<10), 1<<20)
		var cur sse
		var data []string
		for sc.Scan() {
			line := sc.Text()
			switch {
			case line == "":
				if cur.event != "" {
					cur.data = strings.Join(data, "\n")
					out <- cur
				}
				cur, data = sse{}, nil
			case strings.HasPrefix(line, "event: "):
				cur.event = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				data = append(data, strings.TrimPrefix(line, "data: "))
			}
		}
	}()
	return out
}

func waitEvent(t *testing.T, events <-chan sse, match func(sse) bool) sse {
	t.Helper()
	deadline := time.After(waitFor)
	for {
		select {
		case ev, ok := <-events:
			require.True(t, ok, "stream ended")
			if match(ev) {
				return ev
			}
		case <-deadline:
			t.Fatal("timed out waiting for event")
		}
	}
}

func TestFeedStream(t *testing.T) {
	d := newDashboard(t)
	c := d.browser(t)
	d.login(t, c, "john@gmail.com", "test123")

	for i := 0; i < 4; i++ {
		_, err := d.api.CreateBuild(context.Background(), api.NewBuild{Branch: "main", Commit: "abc1234", Jobs: []api.NewJob{{Image: "golang:1.24"}}})
		require.NoError(t, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.web.URL+"/feed/stream?type=latest", nil)
	require.NoError(t, err)
	resp, err := c.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events := readEvents(resp.Body)
	session := waitEvent(t, events, func(ev sse) bool { return ev.event == "session" }).data
	require.NotEmpty(t, session)
	assert.Equal(t, 1, d.app.Sessions().Len())

	first := waitEvent(t, events, func(ev sse) bool {
		return ev.event == "feed" && strings.Count(ev.data, `class="build `) == 3
	})
	assert.Contains(t, first.data, `data-more="/feed/`+session+`/more"`)

	require.Eventually(t, func() bool { return d.broker.SubscriberCount("") == 2 }, waitFor, 10*time.Millisecond)
	fresh, err := d.api.CreateBuild(context.Background(), api.NewBuild{Branch: "live", Commit: "def5678", Jobs: []api.NewJob{{Image: "node:22"}}})
	require.NoError(t, err)
	waitEvent(t, events, func(ev sse) bool {
		return ev.event == "feed" && strings.Contains(ev.data, `data-build-id="`+itoa(fresh.ID)+`"`)
	})

	more, err := c.Post(d.web.URL+"/feed/"+session+"/more", "", nil)
	require.NoError(t, err)
	more.Body.Close()
	assert.Equal(t, http.StatusAccepted, more.StatusCode)
	waitEvent(t, events, func(ev sse) bool {
		return ev.event == "feed" && strings.Count(ev.data, `class="build `) == 5 && !strings.Contains(ev.data, "load-more")
	})

	unknown, err := c.Post(d.web.URL+"/feed/nope/more", "", nil)
	require.NoError(t, err)
	unknown.Body.Close()
	assert.Equal(t, http.StatusNotFound, unknown.StatusCode)

	cancel()
	assert.Eventually(t, func() bool { return d.app.Sessions().Len() == 0 }, waitFor, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return d.broker.SubscriberCount("") == 0 }, waitFor, 10*time.Millisecond)
}

func TestFeedStreamChangesScope(t *testing.T) {
	d := newDashboard(t)
	c := d.browser(t)
	d.login(t, c, "john@gmail.com", "test123")

	for _, branch := range []string{"main", "dev", "main", "dev"} {
		_, err := d.api.CreateBuild(context.Background(), api.NewBuild{Branch: branch, Commit: "abc1234", Jobs: []api.NewJob{{Image: "golang:1.24"}}})
		require.NoError(t, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.web.URL+"/feed/stream?type=latest", nil)
	require.NoError(t, err)
	resp, err := c.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	events := readEvents(resp.Body)
	session := waitEvent(t, events, func(ev sse) bool { return ev.event == "session" }).data
	waitEvent(t, events, func(ev sse) bool {
		return ev.event == "feed" && strings.Count(ev.data, `class="build `) == 3
	})

	post := func(session string, form url.Values) int {
		resp, err := c.PostForm(d.web.URL+"/feed/"+session+"/scope", form)
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}

	assert.Equal(t, http.StatusAccepted, post(session, url.Values{"type": {"branch"}, "value": {"dev"}}))
	waitEvent(t, events, func(ev sse) bool {
		return ev.event == "feed" && strings.Count(ev.data, `class="build `) == 2 && !strings.Contains(ev.data, `">main</span>`)
	})

	assert.Equal(t, http.StatusNoContent, post(session, url.Values{"type": {"branch"}, "value": {" dev "}}))
	assert.Equal(t, http.StatusBadRequest, post(session, url.Values{"type": {"pr"}, "value": {"x"}}))
	assert.Equal(t, http.StatusNotFound, post("nope", url.Values{"type": {"latest"}}))
}

func TestFeedStreamRejectsBadScope(t *testing.T) {
	d := newDashboard(t)
	c := d.browser(t)
	d.login(t, c, "john@gmail.com", "test123")

	resp := get(t, c, d.web.URL+"/feed/stream?type=branch")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPageScope(t *testing.T) {
	a := &App{cfg: Config{Scope: feed.Scope{Type: feed.ScopeBranch, Branch: "main"}}}

	assert.Equal(t, a.cfg.Scope, a.pageScope(url.Values{}))
	assert.Equal(t, feed.LatestScope(), a.pageScope(url.Values{"type": {"latest"}}))
	assert.Equal(t, feed.Scope{Type: feed.ScopePR, PR: 12}, a.pageScope(url.Values{"type": {"pr"}, "value": {"#12"}}))
	assert.Equal(t, feed.Scope{Type: feed.ScopeCommit, Commit: "abc"}, a.pageScope(url.Values{"type": {"commit"}, "value": {" abc "}}))
	assert.Equal(t, a.cfg.Scope, a.pageScope(url.Values{"type": {"pr"}, "value": {"x"}}))
	assert.Equal(t, a.cfg.Scope, a.pageScope(url.Values{"type": {"branch"}}))

	_, err := formScope(url.Values{"type": {"tag"}, "value": {"v1"}})
	assert.ErrorIs(t, err, feed.ErrInvalidScope)
	_, err = formScope(url.Values{"type": {"pr"}, "value": {"x"}})
	assert.ErrorIs(t, err, feed.ErrInvalidScope)
}

func itoa(v uint64) string {
	return strconv.FormatUint(v, 10)
}
