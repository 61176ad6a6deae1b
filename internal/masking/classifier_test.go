package masking

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPClassifier_Redact(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/deidentify", r.URL.Path)

		var req deidentifyRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "x@y.com", req.Value)
		assert.Equal(t, "redact", req.Method)
		assert.Contains(t, req.InfoTypes, "EMAIL_ADDRESS")

		json.NewEncoder(w).Encode(deidentifyResponse{Value: "[REDACTED]"})
	}))
	defer srv.Close()

	c := NewHTTPClassifier(srv.URL, 5*time.Second)
	masked, err := c.Redact(context.Background(), "x@y.com", MethodRedact)
	require.NoError(t, err)
	assert.Equal(t, "[REDACTED]", masked)
}

func TestHTTPClassifier_ErrorMapping(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr error
	}{
		{"quota exceeded", http.StatusTooManyRequests, ErrQuotaExceeded},
		{"malformed payload", http.StatusUnprocessableEntity, ErrMalformedPayload},
		{"unknown method", http.StatusBadRequest, ErrUnknownMethod},
		{"server error", http.StatusInternalServerError, ErrUnavailable},
		{"bad gateway", http.StatusBadGateway, ErrUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			c := NewHTTPClassifier(srv.URL, 5*time.Second)
			_, err := c.Redact(context.Background(), "value", MethodRedact)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestHTTPClassifier_Unreachable(t *testing.T) {
	// Reserve a port then close it so the dial fails fast.
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewHTTPClassifier(url, 1*time.Second)
	_, err := c.Redact(context.Background(), "value", MethodRedact)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestHTTPClassifier_BodyError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(deidentifyResponse{Error: "unsupported structure"})
	}))
	defer srv.Close()

	c := NewHTTPClassifier(srv.URL, 5*time.Second)
	_, err := c.Redact(context.Background(), "value", MethodPartialMask)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformedPayload)
}
