package server

import (
	"encoding/json"
	"net/http"
	"path"
	"sync"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"
)

// openRoutes are the paths served without credentials.
func openRoutes(basePath string, devLogin bool) map[string]bool {
	open := map[string]bool{
		path.Join(basePath, "health"):       true,
		path.Join(basePath, "openapi.json"): true,
	}
	if devLogin {
		open[path.Join(basePath, "auth/dev/login")] = true
	}
	return open
}

// serveOpenAPI publishes the document at <base>/openapi.json. It is built on
// first request, once every operation is registered.
func serveOpenAPI(r chi.Router, api huma.API, open map[string]bool, basePath string) {
	var (
		once sync.Once
		doc  []byte
	)
	r.Get(path.Join(basePath, "openapi.json"), func(w http.ResponseWriter, _ *http.Request) {
		once.Do(func() {
			oas := api.OpenAPI()
			decorateOpenAPI(oas, open)
			doc, _ = json.Marshal(oas)
		})
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(doc)
	})
}

// decorateOpenAPI declares the bearer and API key schemes, requires one of
// them on every operation outside open, and points each operation's default
// response at the error envelope.
func decorateOpenAPI(oas *huma.OpenAPI, open map[string]bool) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{Type: "http", Scheme: "bearer", BearerFormat: "JWT"}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{Type: "apiKey", In: "header", Name: "X-Api-Key"}
	security := []map[string][]string{{"bearerAuth": {}}, {"apiKeyAuth": {}}}
	oas.Security = security

	errorResponse := &huma.Response{
		Description: "Error envelope",
		Content: map[string]*huma.MediaType{
			"application/json": {Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"}},
		},
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{item.Get, item.Put, item.Post, item.Patch, item.Delete} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = errorResponse
			if open[route] {
				op.Security = []map[string][]string{}
			} else {
				op.Security = security
			}
		}
	}
}
