package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/nnsi/hono-practice-sub007/internal/models"
	"github.com/nnsi/hono-practice-sub007/pkg/api"
)

// Классы ответов сервера, на которые клиент реагирует по-разному
var (
	// ErrRejected сервер отклонил запрос как структурно неверный (400)
	ErrRejected = errors.New("request rejected by server")

	// ErrUnauthorized токен отсутствует, истек или неверен (401)
	ErrUnauthorized = errors.New("unauthorized")
)

// ServerError неуспешный ответ сервера
type ServerError struct {
	Details    json.RawMessage
	Message    string
	StatusCode int
}

func (e *ServerError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("server error (%d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("request failed with status %d", e.StatusCode)
}

// Unwrap позволяет классифицировать ошибку через errors.Is
func (e *ServerError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusBadRequest, http.StatusNotFound, http.StatusRequestEntityTooLarge:
		return ErrRejected
	case http.StatusUnauthorized:
		return ErrUnauthorized
	}
	return nil
}

// Client представляет HTTP клиент для взаимодействия с сервером
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
}

// NewClient создает новый API клиент
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: timeout,
			// Настройка обработки редиректов
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return fmt.Errorf("stopped after 10 redirects")
				}
				// Копируем заголовки Authorization при редиректе
				if len(via) > 0 && via[0].Header.Get("Authorization") != "" {
					req.Header.Set("Authorization", via[0].Header.Get("Authorization"))
				}
				return nil
			},
		},
	}
}

// SyncBatch отправляет пакет изменений одного типа
func (c *Client) SyncBatch(ctx context.Context, entityType models.EntityType, items []*models.Mutation) (*api.SyncResponse, error) {
	var resp api.SyncResponse
	req := api.SyncBatchRequest{Items: items}
	if err := c.doRequest(ctx, http.MethodPost, api.SyncPathPrefix+string(entityType), req, &resp); err != nil {
		return nil, fmt.Errorf("sync %s request failed: %w", entityType, err)
	}
	return &resp, nil
}

// Pull получает сущности типа, измененные строго после since
func (c *Client) Pull(ctx context.Context, entityType models.EntityType, since *time.Time) ([]json.RawMessage, error) {
	path := api.SyncPathPrefix + string(entityType)
	if since != nil {
		path += "?since=" + url.QueryEscape(since.UTC().Format(time.RFC3339Nano))
	}

	var resp api.PullResponse
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("pull %s request failed: %w", entityType, err)
	}
	return resp.Items, nil
}

// Health проверяет доступность сервера
func (c *Client) Health(ctx context.Context) (*api.HealthResponse, error) {
	var resp api.HealthResponse
	if err := c.doRequest(ctx, http.MethodGet, "/health", nil, &resp); err != nil {
		return nil, fmt.Errorf("health request failed: %w", err)
	}
	return &resp, nil
}

// doRequest выполняет HTTP запрос
func (c *Client) doRequest(ctx context.Context, method, path string, body, result any) error {
	var bodyReader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	// Проверяем статус код
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		serverErr := &ServerError{StatusCode: resp.StatusCode}
		var errResp struct {
			Error   string          `json:"error"`
			Message string          `json:"message"`
			Details json.RawMessage `json:"details"`
		}
		if err := json.Unmarshal(respBody, &errResp); err == nil {
			serverErr.Message = errResp.Error
			if errResp.Message != "" {
				serverErr.Message += ": " + errResp.Message
			}
			serverErr.Details = errResp.Details
		}
		return serverErr
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}
