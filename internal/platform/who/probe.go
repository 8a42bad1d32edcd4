// Package who holds the connectivity probe against the upstream WHO ICD API.
// The catalog itself is loaded out of band; at runtime only reachability
// matters, and only for the readiness endpoint.
package who

import (
	"context"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
)

// Status is the cached probe outcome.
type Status struct {
	Reachable bool      `json:"reachable"`
	CheckedAt time.Time `json:"checked_at"`
	Error     string    `json:"error,omitempty"`
}

// Probe checks that the WHO ICD API token endpoint answers. Results are
// cached so readiness checks do not hammer the upstream.
type Probe struct {
	http     *resty.Client
	tokenURL string
	clientID string
	secret   string
	logger   zerolog.Logger

	mu       sync.Mutex
	last     *Status
	cacheFor time.Duration
}

func NewProbe(tokenURL, clientID, secret string, logger zerolog.Logger) *Probe {
	return &Probe{
		http:     resty.New().SetTimeout(5 * time.Second),
		tokenURL: tokenURL,
		clientID: clientID,
		secret:   secret,
		logger:   logger,
		cacheFor: 5 * time.Minute,
	}
}

// Check returns the cached status, refreshing it when stale. Unconfigured
// credentials report unreachable without calling out.
func (p *Probe) Check(ctx context.Context) Status {
	p.mu.Lock()
	if p.last != nil && time.Since(p.last.CheckedAt) < p.cacheFor {
		s := *p.last
		p.mu.Unlock()
		return s
	}
	p.mu.Unlock()

	s := p.probe(ctx)

	p.mu.Lock()
	p.last = &s
	p.mu.Unlock()
	return s
}

func (p *Probe) probe(ctx context.Context) Status {
	s := Status{CheckedAt: time.Now()}
	if p.clientID == "" || p.secret == "" {
		s.Error = "WHO credentials not configured"
		return s
	}

	resp, err := p.http.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"grant_type":    "client_credentials",
			"client_id":     p.clientID,
			"client_secret": p.secret,
			"scope":         "icdapi_access",
		}).
		Post(p.tokenURL)
	if err != nil {
		s.Error = err.Error()
		p.logger.Warn().Err(err).Msg("who probe failed")
		return s
	}
	if resp.IsError() {
		s.Error = "token endpoint returned " + resp.Status()
		return s
	}

	s.Reachable = true
	return s
}
