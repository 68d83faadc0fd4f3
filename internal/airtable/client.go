// Package airtable adapts the backing tabular store to the document
// operations the gateway exposes. The store's formula dialect and
// single-select casing are quirks of the service; everything in this
// package exists to keep them from leaking to RPC callers.
package airtable

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
)

type ClientOptions struct {
	BaseURL    string
	APIKey     string
	BaseID     string
	HTTPClient *http.Client
	PageSize   int
}

// Client is a minimal request/response wrapper over the store's record and
// metadata endpoints. It does not retry: callers decide what a failure means.
type Client struct {
	baseURL    string
	apiKey     string
	baseID     string
	httpClient *http.Client
	pageSize   int
}

func NewClient(opts ClientOptions) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.airtable.com"
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 20 * time.Second}
	}
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = 100
	}
	return &Client{
		baseURL:    baseURL,
		apiKey:     opts.APIKey,
		baseID:     opts.BaseID,
		httpClient: httpClient,
		pageSize:   pageSize,
	}
}

func (c *Client) BaseID() string {
	return c.baseID
}

type Record struct {
	ID     string         `json:"id"`
	Fields map[string]any `json:"fields"`
}

type recordPage struct {
	Records []Record `json:"records"`
	Offset  string   `json:"offset"`
}

type ListQuery struct {
	Formula    string
	Fields     []string
	MaxRecords int
}

// ListRecords pages through the table until the store reports no further
// offset, or until MaxRecords have been collected.
func (c *Client) ListRecords(ctx context.Context, table string, q ListQuery) ([]Record, error) {
	var out []Record
	offset := ""
	for {
		values := url.Values{}
		values.Set("pageSize", strconv.Itoa(c.pageSize))
		if q.Formula != "" {
			values.Set("filterByFormula", q.Formula)
		}
		if q.MaxRecords > 0 {
			values.Set("maxRecords", strconv.Itoa(q.MaxRecords))
		}
		for _, field := range q.Fields {
			values.Add("fields[]", field)
		}
		if offset != "" {
			values.Set("offset", offset)
		}
		reqURL := c.recordsURL(table) + "?" + values.Encode()

		var page recordPage
		if err := c.fetchJSON(ctx, http.MethodGet, reqURL, nil, &page); err != nil {
			return nil, err
		}
		out = append(out, page.Records...)
		if q.MaxRecords > 0 && len(out) >= q.MaxRecords {
			return out[:q.MaxRecords], nil
		}
		if page.Offset == "" {
			return out, nil
		}
		offset = page.Offset
	}
}

// CreateRecords issues a POST with a records array body and returns the
// created records with their store-assigned identifiers.
func (c *Client) CreateRecords(ctx context.Context, table string, fields []map[string]any) ([]Record, error) {
	body := struct {
		Records []struct {
			Fields map[string]any `json:"fields"`
		} `json:"records"`
	}{}
	for _, f := range fields {
		body.Records = append(body.Records, struct {
			Fields map[string]any `json:"fields"`
		}{Fields: f})
	}
	var page recordPage
	if err := c.fetchJSON(ctx, http.MethodPost, c.recordsURL(table), body, &page); err != nil {
		return nil, err
	}
	return page.Records, nil
}

type RecordUpdate struct {
	ID     string         `json:"id"`
	Fields map[string]any `json:"fields"`
}

// UpdateRecords issues a partial update addressed by record ID.
func (c *Client) UpdateRecords(ctx context.Context, table string, updates []RecordUpdate) ([]Record, error) {
	body := struct {
		Records []RecordUpdate `json:"records"`
	}{Records: updates}
	var page recordPage
	if err := c.fetchJSON(ctx, http.MethodPatch, c.recordsURL(table), body, &page); err != nil {
		return nil, err
	}
	return page.Records, nil
}

type Choice struct {
	Name string `json:"name"`
}

type FieldOptions struct {
	Choices []Choice `json:"choices"`
}

type FieldSchema struct {
	ID      string        `json:"id"`
	Name    string        `json:"name"`
	Type    string        `json:"type"`
	Options *FieldOptions `json:"options"`
}

type TableSchema struct {
	ID             string        `json:"id"`
	Name           string        `json:"name"`
	PrimaryFieldID string        `json:"primaryFieldId"`
	Fields         []FieldSchema `json:"fields"`
}

// ListTables fetches the base's schema metadata.
func (c *Client) ListTables(ctx context.Context) ([]TableSchema, error) {
	var body struct {
		Tables []TableSchema `json:"tables"`
	}
	metaURL := fmt.Sprintf("%s/v0/meta/bases/%s/tables", c.baseURL, c.baseID)
	if err := c.fetchJSON(ctx, http.MethodGet, metaURL, nil, &body); err != nil {
		return nil, err
	}
	return body.Tables, nil
}

func (c *Client) recordsURL(table string) string {
	return fmt.Sprintf("%s/v0/%s/%s", c.baseURL, c.baseID, url.PathEscape(table))
}

func (c *Client) fetchJSON(ctx context.Context, method, reqURL string, payload, target any) error {
	var reqBody io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	respBody, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return readErr
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode, URL: reqURL}
		if json.Unmarshal(respBody, &apiErr.Body) != nil {
			apiErr.Body = map[string]any{"raw": string(respBody)}
		}
		return apiErr
	}
	if target == nil {
		return nil
	}
	return json.Unmarshal(respBody, target)
}

// APIError carries the HTTP status and the parsed response body of a
// failed store call.
type APIError struct {
	Status int
	Body   map[string]any
	URL    string
}

func (e *APIError) Error() string {
	body, _ := json.Marshal(e.Body)
	return fmt.Sprintf("airtable http %d: %s", e.Status, body)
}

var formulaParsePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)expected to find a '\}' to match the '\{' token`),
	regexp.MustCompile(`(?i)INVALID_FILTER_BY_FORMULA`),
	regexp.MustCompile(`(?i)invalid formula`),
}

// IsFormulaParseError reports whether err is a store rejection of the
// filter formula itself, as opposed to an auth, quota, or availability
// failure. Only these rejections are eligible for the fallback scan.
func IsFormulaParseError(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	body, marshalErr := json.Marshal(apiErr.Body)
	if marshalErr != nil {
		return false
	}
	for _, pattern := range formulaParsePatterns {
		if pattern.Match(body) {
			return true
		}
	}
	return false
}
