package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/darkace1998/PostureLens/internal/model"
)

// maxBodyBytes bounds how much of an upstream response is read.
const maxBodyBytes = 16 << 20

// HTTP is a collector for an upstream that serves a JSON array of RawRecords
// at {base}/tenants/{tenant}/{domain}.
type HTTP struct {
	domain  model.Domain
	baseURL string
	client  *http.Client
}

// NewHTTP creates an HTTP collector for domain. A nil client uses
// http.DefaultClient; per-call deadlines come from the request context.
func NewHTTP(domain model.Domain, baseURL string, client *http.Client) *HTTP {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTP{
		domain:  domain,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}
}

// Domain implements Collector.
func (h *HTTP) Domain() model.Domain { return h.domain }

// Collect implements Collector.
func (h *HTTP) Collect(ctx context.Context, req Request) ([]RawRecord, error) {
	u := fmt.Sprintf("%s/tenants/%s/%s", h.baseURL, url.PathEscape(req.TenantID), h.domain)
	if req.Since != "" {
		u += "?since=" + url.QueryEscape(req.Since)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if req.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.Token)
	}

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return nil, &TransientError{Domain: h.domain, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &AuthorizationError{Domain: h.domain, Reason: resp.Status}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, &TransientError{Domain: h.domain, Err: fmt.Errorf("upstream returned %s", resp.Status)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &TransientError{Domain: h.domain, Err: fmt.Errorf("reading body: %w", err)}
	}

	var records []RawRecord
	if err := json.Unmarshal(body, &records); err != nil {
		return nil, &DataIntegrityError{Domain: h.domain, Detail: "decoding records", Err: err}
	}
	return records, nil
}
