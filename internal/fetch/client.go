// Package fetch - общий HTTP-клиент для плагинов: таймаут на запрос и
// кэш по ETag, чтобы не тянуть неизменившиеся ленты и JSON заново.
package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// UserAgent уходит в каждом запросе.
const UserAgent = "roombot/1.0 (+https://github.com/EgorLis/roombot)"

// StatusError - сервер ответил не 2xx.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %d", e.URL, e.Code)
}

type cached struct {
	etag string
	body []byte
}

// Client безопасен для конкурентного использования.
type Client struct {
	http *http.Client
	log  *zap.Logger

	mu    sync.RWMutex
	cache map[string]cached // url -> последний ответ с ETag
}

// New создаёт клиент с таймаутом на весь запрос.
func New(timeout time.Duration, log *zap.Logger) *Client {
	return NewWithHTTP(&http.Client{Timeout: timeout}, log)
}

// NewWithHTTP - клиент поверх готового http.Client (тесты, прокси).
func NewWithHTTP(hc *http.Client, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{http: hc, log: log, cache: map[string]cached{}}
}

// Get возвращает тело ответа. На 304 отдаётся закэшированное тело.
func (c *Client) Get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", UserAgent)

	c.mu.RLock()
	prev, hasPrev := c.cache[url]
	c.mu.RUnlock()
	if hasPrev {
		req.Header.Set("If-None-Match", prev.etag)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified && hasPrev {
		c.log.Debug("Not modified", zap.String("url", url))
		return prev.body, nil
	}
	if resp.StatusCode/100 != 2 {
		return nil, &StatusError{URL: url, Code: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", url, err)
	}
	if et := resp.Header.Get("ETag"); et != "" {
		c.mu.Lock()
		c.cache[url] = cached{etag: et, body: body}
		c.mu.Unlock()
	}
	return body, nil
}

// GetJSON - Get с разбором JSON в out.
func (c *Client) GetJSON(ctx context.Context, url string, out any) error {
	body, err := c.Get(ctx, url)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s: %w", url, err)
	}
	return nil
}
