package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEchoRouter_Health(t *testing.T) {
	rec := httptest.NewRecorder()
	newRouter("task-service").ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestEchoRouter_Status(t *testing.T) {
	h := newRouter("task-service")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/__status/503", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/__status/abc", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestEchoRouter_Delay(t *testing.T) {
	rec := httptest.NewRecorder()
	newRouter("task-service").ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/__delay/10", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"delayed_ms":10`)
}

func TestEchoRouter_Echo(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/tasks?x=1", strings.NewReader(`{"title":"a"}`))
	newRouter("task-service").ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var got map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "POST", got["method"])
	assert.Equal(t, "/tasks", got["path"])
	assert.Equal(t, "x=1", got["query"])
	assert.Equal(t, `{"title":"a"}`, got["body"])
}
