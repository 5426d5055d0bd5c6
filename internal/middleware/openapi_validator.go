package middleware

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"

	"gatepass-agent/internal/observability"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/gorillamux"
)

// OpenAPIValidatorConfig controls request validation against the agent
// API's contract.
type OpenAPIValidatorConfig struct {
	Enabled  bool
	SpecPath string
	// SkipPaths bypass validation entirely (health probes, metrics).
	SkipPaths []string
}

// DefaultOpenAPIValidatorConfig enables validation outside production.
func DefaultOpenAPIValidatorConfig() *OpenAPIValidatorConfig {
	env := os.Getenv("ENVIRONMENT")

	return &OpenAPIValidatorConfig{
		Enabled:  env != "production" && env != "prod",
		SpecPath: "artifacts/openapi.yaml",
		SkipPaths: []string{
			"/health",
			"/health/ready",
			"/metrics",
		},
	}
}

// OpenAPIValidator validates incoming requests against the agent API's
// OpenAPI document. A spec that fails to load degrades to a no-op
// middleware; contract checking must never take the agent down.
func OpenAPIValidator(config *OpenAPIValidatorConfig) func(next http.Handler) http.Handler {
	noop := func(next http.Handler) http.Handler { return next }

	if config == nil {
		config = DefaultOpenAPIValidatorConfig()
	}
	if !config.Enabled {
		observability.Info("OpenAPI validation disabled")
		return noop
	}

	router, err := loadSpecRouter(config.SpecPath)
	if err != nil {
		observability.Error("OpenAPI validation unavailable",
			"spec_path", config.SpecPath, "error", err.Error())
		return noop
	}
	observability.Info("OpenAPI request validation enabled", "spec_path", config.SpecPath)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skipValidation(r.URL.Path, config.SkipPaths) {
				next.ServeHTTP(w, r)
				return
			}

			route, pathParams, err := router.FindRoute(r)
			if err != nil {
				observability.Warn("request path not in API contract",
					"method", r.Method, "path", r.URL.Path)
				writeValidationError(w, fmt.Sprintf("Path not found in OpenAPI spec: %s %s", r.Method, r.URL.Path))
				return
			}

			input := &openapi3filter.RequestValidationInput{
				Request:    r,
				PathParams: pathParams,
				Route:      route,
				Options: &openapi3filter.Options{
					AuthenticationFunc: openapi3filter.NoopAuthenticationFunc,
				},
			}
			if err := openapi3filter.ValidateRequest(context.Background(), input); err != nil {
				observability.Warn("request validation failed",
					"method", r.Method, "path", r.URL.Path, "error", err.Error())
				writeValidationError(w, fmt.Sprintf("Request validation failed: %s", err.Error()))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// loadSpecRouter loads and validates the OpenAPI document, returning a
// route matcher over it.
func loadSpecRouter(path string) (routers.Router, error) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromFile(path)
	if err != nil {
		return nil, fmt.Errorf("load spec: %w", err)
	}
	if err := doc.Validate(loader.Context); err != nil {
		return nil, fmt.Errorf("validate spec: %w", err)
	}
	router, err := gorillamux.NewRouter(doc)
	if err != nil {
		return nil, fmt.Errorf("build route matcher: %w", err)
	}
	return router, nil
}

func skipValidation(path string, skipPaths []string) bool {
	for _, skip := range skipPaths {
		if path == skip || strings.HasPrefix(path, skip) {
			return true
		}
	}
	return false
}

func writeValidationError(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	fmt.Fprintf(w, `{"error":%q}`, message)
}
