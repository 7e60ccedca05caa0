package connectivity

import (
	"context"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// Prober is a Signal that periodically sends HEAD to a probe URL. Any HTTP
// response counts as online; a transport error counts as offline.
type Prober struct {
	state
	url        string
	interval   time.Duration
	httpClient *http.Client
	logger     logrus.FieldLogger
}

// ProberOption configures the Prober.
type ProberOption func(*Prober)

// WithProbeClient replaces the HTTP client used for probes.
func WithProbeClient(hc *http.Client) ProberOption {
	return func(p *Prober) { p.httpClient = hc }
}

// WithProbeLogger sets the logger.
func WithProbeLogger(l logrus.FieldLogger) ProberOption {
	return func(p *Prober) { p.logger = l }
}

// NewProber creates a Prober. It starts offline until the first probe.
func NewProber(url string, interval time.Duration, opts ...ProberOption) *Prober {
	p := &Prober{
		url:        url,
		interval:   interval,
		httpClient: &http.Client{Timeout: 5 * time.Second},
		logger:     logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Probe checks the URL once and updates the state.
func (p *Prober) Probe(ctx context.Context) bool {
	online := p.check(ctx)
	was := p.Online()
	if p.set(online) {
		p.logger.WithField("url", p.url).Info("connectivity restored")
	} else if was && !online {
		p.logger.WithField("url", p.url).Warn("connectivity lost")
	}
	return online
}

func (p *Prober) check(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.url, nil)
	if err != nil {
		return false
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return true
}

// Run probes immediately and then every interval until ctx is done.
func (p *Prober) Run(ctx context.Context) error {
	p.Probe(ctx)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.Probe(ctx)
		}
	}
}
