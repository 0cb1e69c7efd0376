package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

type stubValidator map[string]string

func (s stubValidator) ValidateToken(token string) (string, string, error) {
	email, ok := s[token]
	if !ok {
		return "", "", errors.New("bad token")
	}
	return "id-" + email, email, nil
}

func TestAuthMiddleware(t *testing.T) {
	am := NewAuthMiddleware(stubValidator{"good": "a@x.com"})
	var seen string
	h := am.Handle(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = r.Context().Value(EmailKey).(string)
	}))

	tests := []struct {
		name   string
		header string
		query  string
		status int
		email  string
	}{
		{"bearer header", "Bearer good", "", http.StatusOK, "a@x.com"},
		{"query param", "", "?token=good", http.StatusOK, "a@x.com"},
		{"missing", "", "", http.StatusUnauthorized, ""},
		{"invalid", "Bearer nope", "", http.StatusUnauthorized, ""},
		{"wrong scheme", "Basic good", "", http.StatusUnauthorized, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = ""
			req := httptest.NewRequest(http.MethodGet, "/ws"+tt.query, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()

			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.email, seen)
		})
	}
}
