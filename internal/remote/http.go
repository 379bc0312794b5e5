package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"ticket-marketplace-core/internal/models"

	"go.uber.org/zap"
	"golang.org/x/net/http2"
)

// HTTPClient talks to the hosted table service's REST API. One instance is
// shared per process; connection pooling lives in the transport.
type HTTPClient struct {
	baseURL string
	apiKey  string
	client  http.Client
}

func NewHTTPClient(cfg models.RemoteConfig) (*HTTPClient, error) {
	httpClient, err := createCustomHTTPClient()
	if err != nil {
		return nil, fmt.Errorf("unable to create custom http client: %w", err)
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  httpClient,
	}, nil
}

func createCustomHTTPClient() (http.Client, error) {
	tr := &http.Transport{
		ResponseHeaderTimeout: 30 * time.Second,
		Proxy:                 http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			KeepAlive: 30 * time.Second,
			Timeout:   15 * time.Second,
		}).DialContext,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		MaxIdleConnsPerHost:   5,
		ExpectContinueTimeout: 5 * time.Second,
	}

	if err := http2.ConfigureTransport(tr); err != nil {
		return http.Client{}, err
	}

	return http.Client{
		Transport: tr,
		Timeout:   60 * time.Second,
	}, nil
}

type wireRecord struct {
	ID     string         `json:"id"`
	Fields map[string]any `json:"fields"`
}

type wireList struct {
	Records []wireRecord `json:"records"`
}

func (c *HTTPClient) Get(ctx context.Context, table, id string) (Record, error) {
	var rec wireRecord
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("%s/%s/%s", c.baseURL, table, id), nil, &rec)
	if err != nil {
		return Record{}, err
	}
	return Record{ID: rec.ID, Fields: rec.Fields}, nil
}

func (c *HTTPClient) Find(ctx context.Context, table string, filter Filter) ([]Record, error) {
	endpoint := fmt.Sprintf("%s/%s", c.baseURL, table)
	if filter.Field != "" {
		// Formula-style equality filter, quoted to survive values with spaces.
		formula := fmt.Sprintf("{%s}=%q", filter.Field, filter.Value)
		endpoint += "?filterByFormula=" + url.QueryEscape(formula)
	}

	var list wireList
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &list); err != nil {
		return nil, err
	}
	records := make([]Record, len(list.Records))
	for i, rec := range list.Records {
		records[i] = Record{ID: rec.ID, Fields: rec.Fields}
	}
	return records, nil
}

func (c *HTTPClient) Insert(ctx context.Context, table string, fields map[string]any) (Record, error) {
	body := map[string]any{"fields": fields}
	var rec wireRecord
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("%s/%s", c.baseURL, table), body, &rec); err != nil {
		return Record{}, err
	}
	return Record{ID: rec.ID, Fields: rec.Fields}, nil
}

func (c *HTTPClient) Update(ctx context.Context, table, id string, fields map[string]any) (Record, error) {
	body := map[string]any{"fields": fields}
	var rec wireRecord
	if err := c.do(ctx, http.MethodPatch, fmt.Sprintf("%s/%s/%s", c.baseURL, table, id), body, &rec); err != nil {
		return Record{}, err
	}
	return Record{ID: rec.ID, Fields: rec.Fields}, nil
}

func (c *HTTPClient) Delete(ctx context.Context, table, id string) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("%s/%s/%s", c.baseURL, table, id), nil, nil)
}

func (c *HTTPClient) do(ctx context.Context, method, endpoint string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("unable to encode request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("unable to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("remote call failed: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			zap.L().Warn("Failed to close response body", zap.Error(err))
		}
	}()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrRecordNotFound
	case resp.StatusCode == http.StatusTooManyRequests:
		return ErrThrottled
	case resp.StatusCode == http.StatusUnprocessableEntity:
		return ErrFilterUnsupported
	case resp.StatusCode >= 400:
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("remote store returned %d: %s", resp.StatusCode, string(payload))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("unable to decode response: %w", err)
	}
	return nil
}
