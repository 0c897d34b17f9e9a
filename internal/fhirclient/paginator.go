// Package fhirclient pages through FHIR search results over HTTP.
package fhirclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ehr/theranostics/pkg/fhirmodels"
	"github.com/ehr/theranostics/pkg/pagination"
)

const (
	DefaultTimeout = 10 * time.Second

	maxErrorBody = 1 << 20
)

// Paginator follows Bundle next links until the last page.
// Requests are sequential and never retried.
type Paginator struct {
	client       *http.Client
	timeout      time.Duration
	resourceType string
	bearerToken  string
	maxPages     int
}

type Option func(*Paginator)

func WithHTTPClient(c *http.Client) Option {
	return func(p *Paginator) {
		if c != nil {
			p.client = c
		}
	}
}

// WithTimeout bounds each page request, including reading its body.
func WithTimeout(d time.Duration) Option {
	return func(p *Paginator) {
		if d > 0 {
			p.timeout = d
		}
	}
}

func WithResourceType(rt string) Option {
	return func(p *Paginator) {
		if rt != "" {
			p.resourceType = rt
		}
	}
}

func WithBearerToken(token string) Option {
	return func(p *Paginator) { p.bearerToken = token }
}

// WithMaxPages fails a search with ErrPageLimit once more than n pages
// would be requested. Zero means unbounded.
func WithMaxPages(n int) Option {
	return func(p *Paginator) {
		if n >= 0 {
			p.maxPages = n
		}
	}
}

func NewPaginator(opts ...Option) *Paginator {
	p := &Paginator{
		client:       http.DefaultClient,
		timeout:      DefaultTimeout,
		resourceType: fhirmodels.ResourceTypePatient,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// FetchAll returns every matching resource across all pages, in server
// order. Any failure discards the pages collected so far.
func (p *Paginator) FetchAll(ctx context.Context, baseURL string, pageSize int) ([]fhirmodels.RawResource, error) {
	next := pagination.SearchURL(baseURL, p.resourceType, pageSize)
	var out []fhirmodels.RawResource

	for pages := 0; next != ""; pages++ {
		if p.maxPages > 0 && pages >= p.maxPages {
			return nil, fmt.Errorf("%w: more than %d pages from %s", ErrPageLimit, p.maxPages, baseURL)
		}

		bundle, err := p.fetchPage(ctx, next)
		if err != nil {
			return nil, err
		}

		for _, entry := range bundle.Entry {
			res, err := entry.DecodeResource()
			if err != nil {
				return nil, &RemoteError{URL: next, Err: err}
			}
			if res.ResourceType() == p.resourceType {
				out = append(out, res)
			}
		}

		next, _ = bundle.LinkURL(fhirmodels.LinkRelationNext)
	}

	return out, nil
}

func (p *Paginator) fetchPage(ctx context.Context, url string) (*fhirmodels.Bundle, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &RemoteError{URL: url, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Accept", fhirmodels.MIMEApplicationFHIRJSON)
	if p.bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+p.bearerToken)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, &RemoteError{URL: url, Err: fmt.Errorf("send request: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &RemoteError{
			URL:         url,
			StatusCode:  resp.StatusCode,
			Diagnostics: outcomeDiagnostics(resp.Body),
		}
	}

	var bundle fhirmodels.Bundle
	if err := json.NewDecoder(resp.Body).Decode(&bundle); err != nil {
		return nil, &RemoteError{URL: url, Err: fmt.Errorf("decode bundle: %w", err)}
	}
	if bundle.ResourceType != "" && bundle.ResourceType != fhirmodels.ResourceTypeBundle {
		return nil, &RemoteError{URL: url, Err: fmt.Errorf("expected Bundle, got %s", bundle.ResourceType)}
	}
	return &bundle, nil
}

func outcomeDiagnostics(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, maxErrorBody))
	if err != nil {
		return ""
	}
	var outcome fhirmodels.OperationOutcome
	if err := json.Unmarshal(data, &outcome); err != nil {
		return ""
	}
	return outcome.Diagnostics()
}
