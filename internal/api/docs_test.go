package api

import (
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/narvanalabs/build-feed/internal/api/handlers"
	"github.com/narvanalabs/build-feed/internal/metrics"
	"github.com/narvanalabs/build-feed/pkg/config"
)

// openAPIDoc is the subset of an OpenAPI document the route checks read.
type openAPIDoc struct {
	OpenAPI string                         `yaml:"openapi"`
	Paths   map[string]map[string]struct{} `yaml:"paths"`
}

func loadOpenAPI(t *testing.T) openAPIDoc {
	t.Helper()
	var doc openAPIDoc
	require.NoError(t, yaml.Unmarshal(handlers.OpenAPISpec(), &doc))
	require.NotEmpty(t, doc.OpenAPI)
	return doc
}

func routes(t *testing.T, r chi.Router) map[string]map[string]bool {
	t.Helper()
	out := map[string]map[string]bool{}
	err := chi.Walk(r, func(method, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		if route != "/" {
			route = strings.TrimSuffix(route, "/")
		}
		if out[route] == nil {
			out[route] = map[string]bool{}
		}
		out[route][strings.ToLower(method)] = true
		return nil
	})
	require.NoError(t, err)
	return out
}

func TestOpenAPIMatchesRouter(t *testing.T) {
	server := NewServer(config.LoadWithDefaults(), Deps{Metrics: metrics.New(nil)}, nil)
	doc := loadOpenAPI(t)
	routed := routes(t, server.Router())

	for path := range routed {
		assert.Contains(t, doc.Paths, path, "route %s is not documented", path)
	}
	for path, item := range doc.Paths {
		require.Contains(t, routed, path, "documented path %s is not routed", path)
		for method := range item {
			assert.True(t, routed[path][method], "documented %s %s is not routed", method, path)
		}
	}
}

func TestDocsServed(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodGet, "/docs/openapi.yaml", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/yaml", resp.Header.Get("Content-Type"))
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, handlers.OpenAPISpec(), body)

	resp = env.do(t, http.MethodGet, "/docs", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err = io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `url: "/docs/openapi.yaml"`)
}
