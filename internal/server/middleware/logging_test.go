package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// captureLogger пишет JSON-записи в буфер
func captureLogger() (*slog.Logger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})), buf
}

func decodeLogLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	return entry
}

func TestLoggingMiddleware(t *testing.T) {
	tests := []struct {
		handler   http.HandlerFunc
		name      string
		wantLevel string
		status    int
	}{
		{
			name: "success logs at info",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte("ok"))
			},
			status:    http.StatusOK,
			wantLevel: "INFO",
		},
		{
			name: "client error logs at warn",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadRequest)
			},
			status:    http.StatusBadRequest,
			wantLevel: "WARN",
		},
		{
			name: "server error logs at error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			},
			status:    http.StatusInternalServerError,
			wantLevel: "ERROR",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, buf := captureLogger()

			r := chi.NewRouter()
			r.Use(chimw.RequestID)
			r.Use(LoggingMiddleware(logger))
			r.Post("/users/v2/sync/{entityType}", tt.handler)

			req := httptest.NewRequest(http.MethodPost, "/users/v2/sync/task", nil)
			req.Header.Set("Authorization", "Bearer secret-token")
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(t, tt.status, w.Code)

			entry := decodeLogLine(t, buf)
			assert.Equal(t, tt.wantLevel, entry["level"])
			assert.Equal(t, "/users/v2/sync/task", entry["path"])
			assert.Equal(t, "/users/v2/sync/{entityType}", entry["route"])
			assert.EqualValues(t, tt.status, entry["status"])
			assert.NotEmpty(t, entry["request_id"])
			assert.NotContains(t, buf.String(), "secret-token")
		})
	}
}

func TestLoggingWithSkip(t *testing.T) {
	logger, buf := captureLogger()
	handler := LoggingWithSkip(logger, []string{"/health"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Zero(t, buf.Len(), "health checks are not logged")

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/users/v2/activity-logs", nil))
	assert.NotZero(t, buf.Len())
}

func TestResponseWriter_CapturesStatusAndBytes(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := &responseWriter{ResponseWriter: rec, statusCode: http.StatusOK}

	rw.WriteHeader(http.StatusAccepted)
	n, err := rw.Write([]byte("hello"))
	require.NoError(t, err)

	assert.Equal(t, 5, n)
	assert.Equal(t, http.StatusAccepted, rw.statusCode)
	assert.Equal(t, int64(5), rw.written)
}
