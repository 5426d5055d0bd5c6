package middleware

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSpec = `openapi: 3.0.3
info:
  title: Test API
  version: 1.0.0
paths:
  /api/v1/session/login:
    post:
      requestBody:
        required: true
        content:
          application/json:
            schema:
              type: object
              required: [email, password]
              properties:
                email:
                  type: string
                password:
                  type: string
      responses:
        '200':
          description: OK
`

func writeTestSpec(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "openapi.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testSpec), 0o600))
	return path
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestOpenAPIValidator_Disabled(t *testing.T) {
	mw := OpenAPIValidator(&OpenAPIValidatorConfig{Enabled: false})
	handler := mw(okHandler())

	// Anything goes when validation is off
	req := httptest.NewRequest(http.MethodPost, "/not/in/spec", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestOpenAPIValidator_MissingSpecDegradesToNoop(t *testing.T) {
	mw := OpenAPIValidator(&OpenAPIValidatorConfig{
		Enabled:  true,
		SpecPath: "does/not/exist.yaml",
	})
	handler := mw(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/anything", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestOpenAPIValidator_ValidRequest(t *testing.T) {
	mw := OpenAPIValidator(&OpenAPIValidatorConfig{
		Enabled:  true,
		SpecPath: writeTestSpec(t),
	})
	handler := mw(okHandler())

	body := strings.NewReader(`{"email":"op@example.com","password":"hunter22"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/session/login", body)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestOpenAPIValidator_MissingRequiredField(t *testing.T) {
	mw := OpenAPIValidator(&OpenAPIValidatorConfig{
		Enabled:  true,
		SpecPath: writeTestSpec(t),
	})
	handler := mw(okHandler())

	body := strings.NewReader(`{"email":"op@example.com"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/session/login", body)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "error")
}

func TestOpenAPIValidator_UnknownPath(t *testing.T) {
	mw := OpenAPIValidator(&OpenAPIValidatorConfig{
		Enabled:  true,
		SpecPath: writeTestSpec(t),
	})
	handler := mw(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/not/in/spec", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestOpenAPIValidator_SkipPaths(t *testing.T) {
	mw := OpenAPIValidator(&OpenAPIValidatorConfig{
		Enabled:   true,
		SpecPath:  writeTestSpec(t),
		SkipPaths: []string{"/health", "/metrics"},
	})
	handler := mw(okHandler())

	for _, path := range []string{"/health", "/health/ready", "/metrics"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code, "path %s should skip validation", path)
	}
}

func TestSkipValidation(t *testing.T) {
	skipPaths := []string{"/health", "/metrics"}

	assert.True(t, skipValidation("/health", skipPaths))
	assert.True(t, skipValidation("/health/ready", skipPaths))
	assert.True(t, skipValidation("/metrics", skipPaths))
	assert.False(t, skipValidation("/api/v1/session", skipPaths))
}
