package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
)

func TestHealthHandler_Root(t *testing.T) {
	r := chi.NewRouter()
	NewHealthHandler().RegisterRoutes(r)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Water Reminder Backend is running!", w.Body.String())
}

func TestHealthHandler_Healthz(t *testing.T) {
	r := chi.NewRouter()
	NewHealthHandler().RegisterRoutes(r)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"success":true,"status":"ok"}`, w.Body.String())
}
