// Package remote HTTP клиент удаленного API: повтор изменений,
// загрузка фотографий и проверка доступности.
package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"golang.org/x/exp/slog"

	"fieldsync/internal/domain/mutation"
	"fieldsync/internal/domain/photo"
)

const (
	healthPath = "/api/v1/health"
	userAgent  = "fieldsync-agent/1.0"

	// maxErrorBody сколько байт тела ответа попадает в текст ошибки
	maxErrorBody = 512
)

// ErrNotConfigured адрес удаленного API не задан
var ErrNotConfigured = errors.New("remote base url is not configured")

// StatusError ответ удаленного API с кодом вне 2xx
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: status %d", e.Method, e.URL, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.URL, e.StatusCode, e.Body)
}

type Client struct {
	client  *http.Client
	log     *slog.Logger
	baseURL string
	token   string
}

var (
	_ mutation.Replayer = (*Client)(nil)
	_ photo.Uploader    = (*Client)(nil)
)

// New создает клиент. Таймауты отдельных запросов задают очереди через
// контекст, поэтому у http.Client общий таймаут не выставлен.
func New(baseURL, token string, log *slog.Logger) *Client {
	return &Client{
		client: &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        20,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		log:     log.With("component", "remote_client"),
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
	}
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	if c.baseURL == "" {
		return nil, ErrNotConfigured
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	req.Header.Set("User-Agent", userAgent)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *Client) do(req *http.Request) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &StatusError{
		Method:     req.Method,
		URL:        req.URL.Path,
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(body)),
	}
}

// HealthCheck проверяет доступность удаленного API.
func (c *Client) HealthCheck(ctx context.Context) error {
	req, err := c.newRequest(ctx, http.MethodGet, healthPath, nil)
	if err != nil {
		return err
	}
	return c.do(req)
}

// Replay отправляет сохраненное изменение. Ключ идемпотентности позволяет
// серверу отбросить повтор уже примененного запроса.
func (c *Client) Replay(ctx context.Context, item *mutation.Item) error {
	var body io.Reader
	if len(item.Payload) > 0 {
		body = bytes.NewReader(item.Payload)
	}

	req, err := c.newRequest(ctx, item.Method, item.Endpoint, body)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Idempotency-Key", item.IdempotencyKey)

	c.log.Debug("replaying mutation",
		"id", item.ID,
		"method", item.Method,
		"endpoint", item.Endpoint,
		"retry_count", item.RetryCount,
	)
	return c.do(req)
}

// Upload отправляет фотографию как multipart/form-data в поле file.
func (c *Client) Upload(ctx context.Context, item *photo.Item, blob []byte) error {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, item.FileName))
	header.Set("Content-Type", item.ContentType)
	part, err := w.CreatePart(header)
	if err != nil {
		return fmt.Errorf("create multipart part: %w", err)
	}
	if _, err := part.Write(blob); err != nil {
		return fmt.Errorf("write multipart part: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, item.Endpoint, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Idempotency-Key", item.IdempotencyKey)
	req.Header.Set("X-Content-SHA256", item.Checksum)

	c.log.Debug("uploading photo",
		"id", item.ID,
		"endpoint", item.Endpoint,
		"size", item.Size,
		"retry_count", item.RetryCount,
	)
	return c.do(req)
}
