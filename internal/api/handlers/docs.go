package handlers

import (
	"embed"
	"html/template"
	"log/slog"
	"net/http"
)

//go:embed docs/openapi.yaml
var docsFS embed.FS

// OpenAPISpec returns the embedded OpenAPI document of the API.
func OpenAPISpec() []byte {
	data, err := docsFS.ReadFile("docs/openapi.yaml")
	if err != nil {
		panic(err)
	}
	return data
}

// DocsHandler serves the API documentation.
type DocsHandler struct {
	logger      *slog.Logger
	swaggerHTML *template.Template
}

// NewDocsHandler creates a new docs handler.
func NewDocsHandler(logger *slog.Logger) *DocsHandler {
	return &DocsHandler{
		logger:      logger,
		swaggerHTML: template.Must(template.New("swagger").Parse(swaggerUITemplate)),
	}
}

// ServeSwaggerUI handles GET /docs.
func (h *DocsHandler) ServeSwaggerUI(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	data := struct {
		SpecURL string
		Title   string
	}{
		SpecURL: "/docs/openapi.yaml",
		Title:   "Build Feed API",
	}

	if err := h.swaggerHTML.Execute(w, data); err != nil {
		h.logger.Error("failed to render Swagger UI", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

// ServeOpenAPISpec handles GET /docs/openapi.yaml.
func (h *DocsHandler) ServeOpenAPISpec(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	w.Write(OpenAPISpec())
}

// Swagger UI is loaded from the CDN.
const swaggerUITemplate = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>{{.Title}} - API Documentation</title>
    <link rel="stylesheet" type="text/css" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css">
    <style>
        body { margin: 0; background: #fafafa; }
        .swagger-ui .topbar { background-color: #1f2937; }
    </style>
</head>
<body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
    <script>
        window.onload = function() {
            window.ui = SwaggerUIBundle({
                url: "{{.SpecURL}}",
                dom_id: '#swagger-ui',
                deepLinking: true,
                persistAuthorization: true,
                displayRequestDuration: true
            });
        };
    </script>
</body>
</html>`
