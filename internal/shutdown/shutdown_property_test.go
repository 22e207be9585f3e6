package shutdown

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// orderLog records the order components were stopped in.
type orderLog struct {
	mu    sync.Mutex
	names []string
}

func (l *orderLog) add(name string) {
	l.mu.Lock()
	l.names = append(l.names, name)
	l.mu.Unlock()
}

func (l *orderLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.names...)
}

type mockComponent struct {
	name  string
	delay time.Duration
	fail  bool
	log   *orderLog
	calls int32
}

func (m *mockComponent) Name() string { return m.name }

func (m *mockComponent) Shutdown(ctx context.Context) error {
	atomic.AddInt32(&m.calls, 1)
	if m.log != nil {
		m.log.add(m.name)
	}
	select {
	case <-time.After(m.delay):
		if m.fail {
			return errors.New("mock shutdown failed")
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// **Feature: build-feed, Property 13: Components stop in reverse registration order**
// *For any* set of components, including failing ones, Shutdown SHALL call
// each exactly once, last registered first, and report exit code 0 when the
// deadline is met.
func TestPropertyReverseOrderShutdown(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("components stop LIFO exactly once", prop.ForAll(
		func(failures []bool) bool {
			log := &orderLog{}
			c := NewCoordinator(WithTimeout(2*time.Second), WithLogger(quietLogger()))

			comps := make([]*mockComponent, len(failures))
			for i, fail := range failures {
				comps[i] = &mockComponent{name: string(rune('a' + i)), fail: fail, log: log}
				c.Register(comps[i])
			}

			c.Shutdown()
			c.Wait()

			got := log.list()
			if len(got) != len(comps) {
				return false
			}
			for i, name := range got {
				if name != comps[len(comps)-1-i].name {
					return false
				}
			}
			for _, comp := range comps {
				if atomic.LoadInt32(&comp.calls) != 1 {
					return false
				}
			}
			return c.ExitCode() == 0
		},
		gen.SliceOf(gen.Bool()).SuchThat(func(v []bool) bool { return len(v) > 0 }),
	))

	properties.TestingRun(t)
}

// **Feature: build-feed, Property 14: Shutdown deadline forces exit code 1**
// *For any* component slower than the timeout, Shutdown SHALL return after
// roughly the timeout, skip components registered before it, and set exit code 1.
func TestPropertyShutdownTimeout(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 10
	properties := gopter.NewProperties(parameters)

	properties.Property("slow component exhausts the deadline", prop.ForAll(
		func(timeoutMS int) bool {
			timeout := time.Duration(timeoutMS) * time.Millisecond
			c := NewCoordinator(WithTimeout(timeout), WithLogger(quietLogger()))

			first := &mockComponent{name: "store"}
			slow := &mockComponent{name: "slow", delay: time.Minute}
			c.Register(first)
			c.Register(slow)

			start := time.Now()
			c.Shutdown()
			elapsed := time.Since(start)

			return c.ExitCode() == 1 &&
				atomic.LoadInt32(&first.calls) == 0 &&
				elapsed < timeout+time.Second
		},
		gen.IntRange(20, 100),
	))

	properties.TestingRun(t)
}

func TestShutdownIsIdempotent(t *testing.T) {
	comp := &mockComponent{name: "api"}
	c := NewCoordinator(WithLogger(quietLogger()))
	c.Register(comp)

	c.Shutdown()
	c.Shutdown()
	c.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&comp.calls))
}

func TestWaitForSignalCancelsContext(t *testing.T) {
	sigCh := make(chan os.Signal, 1)
	c := NewCoordinator(WithSignalChannel(sigCh), WithLogger(quietLogger()))

	done := make(chan struct{})
	go func() {
		c.WaitForSignal()
		close(done)
	}()

	sigCh <- syscall.SIGTERM

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("WaitForSignal did not return")
	}
	assert.Error(t, c.Context().Err())
}

func TestHTTPServerComponentDrainsInFlight(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	srv := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-release
		w.WriteHeader(http.StatusOK)
	}))
	srv.Start()
	defer srv.Close()

	result := make(chan int, 1)
	go func() {
		resp, err := http.Get(srv.URL)
		if err != nil {
			result <- 0
			return
		}
		resp.Body.Close()
		result <- resp.StatusCode
	}()
	<-started

	comp := NewHTTPServerComponent("api", srv.Config)
	shutdownErr := make(chan error, 1)
	go func() {
		shutdownErr <- comp.Shutdown(context.Background())
	}()

	time.Sleep(50 * time.Millisecond)
	close(release)

	assert.Equal(t, http.StatusOK, <-result)
	require.NoError(t, <-shutdownErr)
}

type teardownCounter struct{ n int32 }

func (c *teardownCounter) Teardown() { atomic.AddInt32(&c.n, 1) }

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func TestAdapterComponents(t *testing.T) {
	ctx := context.Background()

	td := &teardownCounter{}
	require.NoError(t, NewTeardownComponent("sessions", td).Shutdown(ctx))
	assert.Equal(t, int32(1), atomic.LoadInt32(&td.n))

	closeErr := errors.New("close failed")
	cc := NewCloserComponent("relay", closerFunc(func() error { return closeErr }))
	assert.Equal(t, "relay", cc.Name())
	assert.ErrorIs(t, cc.Shutdown(ctx), closeErr)

	called := false
	fc := NewFuncComponent("broker", func(context.Context) error {
		called = true
		return nil
	})
	require.NoError(t, fc.Shutdown(ctx))
	assert.True(t, called)
}

type blockingTeardown struct{ release chan struct{} }

func (b blockingTeardown) Teardown() { <-b.release }

func TestTeardownComponentHonoursDeadline(t *testing.T) {
	b := blockingTeardown{release: make(chan struct{})}
	defer close(b.release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := NewTeardownComponent("stuck", b).Shutdown(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
