// Package dns talks to the managed DNS provider's REST API. Zone
// lookups are cached in-process since zone ids never change within a
// control-plane lifetime.
package dns

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/codeblabdev-max/codeb-server-sub015/internal/domain"
)

// ErrZoneNotFound means the provider manages no zone for the name.
var ErrZoneNotFound = errors.New("dns: zone not found")

// Client is a thin REST client for the DNS provider.
type Client struct {
	baseURL string
	token   string
	http    *http.Client

	mu    sync.RWMutex
	zones map[string]string
}

// NewClient constructs a client for the provider API.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 15 * time.Second},
		zones:   make(map[string]string),
	}
}

type apiEnvelope struct {
	Success bool            `json:"success"`
	Errors  []apiError      `json:"errors"`
	Result  json.RawMessage `json:"result"`
}

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type zonePayload struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type recordPayload struct {
	ID      string `json:"id,omitempty"`
	Type    string `json:"type"`
	Name    string `json:"name"`
	Content string `json:"content"`
	TTL     int    `json:"ttl,omitempty"`
}

// ZoneID resolves a zone name to its provider id, consulting the cache first.
func (c *Client) ZoneID(ctx context.Context, zone string) (string, error) {
	zone = strings.ToLower(strings.TrimSpace(zone))
	c.mu.RLock()
	if id, ok := c.zones[zone]; ok {
		c.mu.RUnlock()
		return id, nil
	}
	c.mu.RUnlock()

	var zones []zonePayload
	query := url.Values{"name": {zone}}
	if err := c.do(ctx, http.MethodGet, "/zones?"+query.Encode(), nil, &zones); err != nil {
		return "", err
	}
	if len(zones) == 0 {
		return "", fmt.Errorf("%w: %s", ErrZoneNotFound, zone)
	}
	c.mu.Lock()
	c.zones[zone] = zones[0].ID
	c.mu.Unlock()
	return zones[0].ID, nil
}

// ListRecords returns records in a zone filtered by name and type.
// Empty filters match everything.
func (c *Client) ListRecords(ctx context.Context, zoneID, name, recordType string) ([]domain.DNSRecord, error) {
	query := url.Values{}
	if name != "" {
		query.Set("name", name)
	}
	if recordType != "" {
		query.Set("type", recordType)
	}
	path := fmt.Sprintf("/zones/%s/dns_records", zoneID)
	if encoded := query.Encode(); encoded != "" {
		path += "?" + encoded
	}
	var payloads []recordPayload
	if err := c.do(ctx, http.MethodGet, path, nil, &payloads); err != nil {
		return nil, err
	}
	records := make([]domain.DNSRecord, 0, len(payloads))
	for _, p := range payloads {
		records = append(records, domain.DNSRecord(p))
	}
	return records, nil
}

// EnsureRecord creates the record or updates it in place when a record
// of the same name and type already exists.
func (c *Client) EnsureRecord(ctx context.Context, zoneID string, record domain.DNSRecord) (domain.DNSRecord, error) {
	existing, err := c.ListRecords(ctx, zoneID, record.Name, record.Type)
	if err != nil {
		return domain.DNSRecord{}, err
	}
	payload := recordPayload{Type: record.Type, Name: record.Name, Content: record.Content, TTL: record.TTL}
	var saved recordPayload
	if len(existing) > 0 {
		path := fmt.Sprintf("/zones/%s/dns_records/%s", zoneID, existing[0].ID)
		if err := c.do(ctx, http.MethodPut, path, payload, &saved); err != nil {
			return domain.DNSRecord{}, err
		}
	} else {
		path := fmt.Sprintf("/zones/%s/dns_records", zoneID)
		if err := c.do(ctx, http.MethodPost, path, payload, &saved); err != nil {
			return domain.DNSRecord{}, err
		}
	}
	return domain.DNSRecord(saved), nil
}

// DeleteRecord removes one record by id.
func (c *Client) DeleteRecord(ctx context.Context, zoneID, recordID string) error {
	path := fmt.Sprintf("/zones/%s/dns_records/%s", zoneID, recordID)
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("dns provider request: %w", err)
	}
	defer resp.Body.Close()

	var envelope apiEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("decode dns provider response: %w", err)
	}
	if resp.StatusCode >= 400 || !envelope.Success {
		if len(envelope.Errors) > 0 {
			return fmt.Errorf("dns provider error %d: %s", envelope.Errors[0].Code, envelope.Errors[0].Message)
		}
		return fmt.Errorf("dns provider returned status %s", resp.Status)
	}
	if out != nil && len(envelope.Result) > 0 {
		if err := json.Unmarshal(envelope.Result, out); err != nil {
			return fmt.Errorf("decode dns provider result: %w", err)
		}
	}
	return nil
}
