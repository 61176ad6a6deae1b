package audit

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veilstream/veilstream/internal/model"
)

func sampleReport() *model.AuditReport {
	return &model.AuditReport{
		RunAt:       time.Now().UTC(),
		Threshold:   45 * time.Minute,
		SourceCount: 10,
		AbsentCount: 2,
		Sample: []model.AuditGap{
			{EventID: "e1", Kind: model.GapAbsent},
			{EventID: "e2", Kind: model.GapAbsent},
		},
	}
}

func TestWebhookChannel_Report(t *testing.T) {
	var received map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
	}))
	defer srv.Close()

	ch := NewWebhookChannel(srv.URL, 5*time.Second)
	require.NoError(t, ch.Report(context.Background(), sampleReport()))

	assert.Equal(t, "audit_report", received["type"])
	report, ok := received["report"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(2), report["absent_count"])
}

func TestWebhookChannel_ReportError(t *testing.T) {
	var received map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
	}))
	defer srv.Close()

	ch := NewWebhookChannel(srv.URL, 5*time.Second)
	require.NoError(t, ch.ReportError(context.Background(), errors.New("source unreachable")))

	assert.Equal(t, "audit_error", received["type"])
	assert.Equal(t, "source unreachable", received["error"])
}

func TestWebhookChannel_NonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	ch := NewWebhookChannel(srv.URL, 5*time.Second)
	err := ch.Report(context.Background(), sampleReport())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestSlackChannel_Report(t *testing.T) {
	var received map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
	}))
	defer srv.Close()

	ch := NewSlackChannel(srv.URL, 5*time.Second)
	require.NoError(t, ch.Report(context.Background(), sampleReport()))

	assert.Contains(t, received["text"], "2 gap(s)")
	attachments, ok := received["attachments"].([]any)
	require.True(t, ok)
	require.Len(t, attachments, 1)
	first, ok := attachments[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "danger", first["color"])
}

func TestMultiChannel_PartialFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	broken := NewWebhookChannel("http://127.0.0.1:1", 500*time.Millisecond)
	working := NewWebhookChannel(srv.URL, 5*time.Second)

	multi := NewMultiChannel(broken, working)
	// One channel succeeding is enough.
	assert.NoError(t, multi.Report(context.Background(), sampleReport()))
}

func TestMultiChannel_AllFail(t *testing.T) {
	broken := NewWebhookChannel("http://127.0.0.1:1", 500*time.Millisecond)

	multi := NewMultiChannel(broken)
	err := multi.Report(context.Background(), sampleReport())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all reporting channels failed")
}
