package api

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

	"github.com/nnsi/hono-practice-sub007/internal/models"
	"github.com/nnsi/hono-practice-sub007/pkg/api"
)

const testTaskID = "6f1c1b9e-6a51-4f0c-8f43-3f1f3c0a9b11"

// TestNewClient проверяет создание нового клиента
func TestNewClient(t *testing.T) {
	baseURL := "http://localhost:8080"
	client := NewClient(baseURL, "token", 0)

	assert.NotNil(t, client)
	assert.Equal(t, baseURL, client.baseURL)
	assert.NotNil(t, client.httpClient)
	assert.Equal(t, 30*time.Second, client.httpClient.Timeout)
}

// TestClient_SyncBatch проверяет отправку пакета
func TestClient_SyncBatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, api.SyncPathPrefix+"task", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var req api.SyncBatchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Items, 1)
		assert.Equal(t, uint64(7), req.Items[0].SequenceNumber)
		assert.Equal(t, "write docs", req.Items[0].Payload.(*models.Task).Title)

		_ = json.NewEncoder(w).Encode(api.SyncResponse{
			SyncedIDs:  []string{testTaskID},
			ServerWins: []json.RawMessage{},
			SkippedIDs: []string{},
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, "secret", time.Second)
	items := []*models.Mutation{{
		ID:             "01J9Z3Y4Q5R6S7T8V9W0X1Y2Z3",
		EntityType:     models.EntityTask,
		EntityID:       testTaskID,
		Operation:      models.OperationCreate,
		Payload:        &models.Task{ID: testTaskID, Title: "write docs"},
		Timestamp:      time.Now(),
		SequenceNumber: 7,
	}}

	resp, err := client.SyncBatch(context.Background(), models.EntityTask, items)
	require.NoError(t, err)
	assert.Equal(t, []string{testTaskID}, resp.SyncedIDs)
}

// TestClient_Errors проверяет классификацию ошибок сервера
func TestClient_Errors(t *testing.T) {
	tests := []struct {
		wantIs         error
		name           string
		body           string
		expectedErrMsg string
		statusCode     int
	}{
		{
			name:           "validation failure",
			statusCode:     http.StatusBadRequest,
			body:           `{"error":"Bad Request","message":"batch must not exceed 100 items","details":[{"index":-1}]}`,
			wantIs:         ErrRejected,
			expectedErrMsg: "server error (400): Bad Request: batch must not exceed 100 items",
		},
		{
			name:           "expired token",
			statusCode:     http.StatusUnauthorized,
			body:           `{"error":"Unauthorized"}`,
			wantIs:         ErrUnauthorized,
			expectedErrMsg: "server error (401): Unauthorized",
		},
		{
			name:           "internal server error",
			statusCode:     http.StatusInternalServerError,
			body:           "Internal Server Error",
			expectedErrMsg: "request failed with status 500",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.statusCode)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := NewClient(server.URL, "", time.Second).SyncBatch(context.Background(), models.EntityTask, nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.expectedErrMsg)

			var serverErr *ServerError
			require.True(t, errors.As(err, &serverErr))
			assert.Equal(t, tt.statusCode, serverErr.StatusCode)
			if tt.wantIs != nil {
				assert.ErrorIs(t, err, tt.wantIs)
			} else {
				assert.False(t, errors.Is(err, ErrRejected) || errors.Is(err, ErrUnauthorized))
			}
		})
	}
}

// TestClient_Pull проверяет передачу since
func TestClient_Pull(t *testing.T) {
	since := time.Date(2024, 5, 1, 10, 0, 0, 500_000_000, time.FixedZone("JST", 9*3600))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, api.SyncPathPrefix+"activityLog", r.URL.Path)
		if got := r.URL.Query().Get("since"); got != "" {
			assert.Equal(t, "2024-05-01T01:00:00.5Z", got)
		}
		_, _ = w.Write([]byte(`{"items":[{"id":"` + testTaskID + `"}]}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "", time.Second)

	items, err := client.Pull(context.Background(), models.EntityActivityLog, &since)
	require.NoError(t, err)
	assert.Len(t, items, 1)

	items, err = client.Pull(context.Background(), models.EntityActivityLog, nil)
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

// TestClient_NetworkError проверяет ошибку соединения
func TestClient_NetworkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	_, err := NewClient(url, "", time.Second).Health(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "request failed")

	var serverErr *ServerError
	assert.False(t, errors.As(err, &serverErr))
}

// TestClient_Health проверяет health endpoint
func TestClient_Health(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		_ = json.NewEncoder(w).Encode(api.HealthResponse{Status: "ok", Version: "1.0.0"})
	}))
	defer server.Close()

	resp, err := NewClient(server.URL, "", time.Second).Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Status)
}
