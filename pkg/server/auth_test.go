package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func TestAuthMiddleware(t *testing.T) {
	srv, m, _ := newTestServer()
	srv.adminEmails = []string{"admin@example.com"}
	srv.verifier = func(ctx context.Context, token string) (string, error) {
		switch token {
		case "admin-token":
			return "admin@example.com", nil
		case "user-token":
			return "user@example.com", nil
		}
		return "", errors.New("invalid token")
	}
	m.On("UpdateEnergy", mock.Anything, "").Return(nil)
	m.On("Entries").Return(nil)
	h := srv.setupHandler()

	request := func(method, path, auth string) int {
		req := httptest.NewRequest(method, path, nil)
		if auth != "" {
			req.Header.Set("Authorization", auth)
		}
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		return w.Code
	}

	t.Run("ReadsAreOpen", func(t *testing.T) {
		assert.Equal(t, http.StatusOK, request(http.MethodGet, "/api/entries", ""))
	})

	t.Run("MissingToken", func(t *testing.T) {
		assert.Equal(t, http.StatusUnauthorized, request(http.MethodPost, "/api/services/update_energy", ""))
	})

	t.Run("InvalidHeader", func(t *testing.T) {
		assert.Equal(t, http.StatusBadRequest, request(http.MethodPost, "/api/services/update_energy", "Basic abc"))
	})

	t.Run("InvalidToken", func(t *testing.T) {
		assert.Equal(t, http.StatusUnauthorized, request(http.MethodPost, "/api/services/update_energy", "Bearer nope"))
	})

	t.Run("NotAdmin", func(t *testing.T) {
		assert.Equal(t, http.StatusForbidden, request(http.MethodPost, "/api/services/update_energy", "Bearer user-token"))
	})

	t.Run("Admin", func(t *testing.T) {
		assert.Equal(t, http.StatusOK, request(http.MethodPost, "/api/services/update_energy", "Bearer admin-token"))
	})

	t.Run("Disabled", func(t *testing.T) {
		open, om, _ := newTestServer()
		om.On("UpdateEnergy", mock.Anything, "").Return(nil)
		req := httptest.NewRequest(http.MethodPost, "/api/services/update_energy", nil)
		w := httptest.NewRecorder()
		open.setupHandler().ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	})
}
