package producer

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"statusmon/internal/models"
)

// HTTPProbe checks services that expose a health URL. A 2xx or 3xx answer is
// UP; anything else, including a failed request, is DOWN. Services without a
// URL are handed to Fallback.
type HTTPProbe struct {
	URLs     map[string]string
	Fallback Probe
	Client   *http.Client
}

// NewHTTPProbe builds a probe for urls with systemd as the fallback.
func NewHTTPProbe(urls map[string]string) HTTPProbe {
	return HTTPProbe{
		URLs:     urls,
		Fallback: SystemdProbe{},
		Client:   &http.Client{Timeout: 15 * time.Second},
	}
}

// Probe issues a GET against the service URL.
func (p HTTPProbe) Probe(ctx context.Context, service string) (models.Status, error) {
	url, ok := p.URLs[service]
	if !ok {
		if p.Fallback == nil {
			return models.StatusDown, &ProbeError{Service: service, Err: errors.New("no probe configured")}
		}
		return p.Fallback.Probe(ctx, service)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return models.StatusDown, &ProbeError{Service: service, Err: err}
	}
	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		// an unreachable endpoint is a down service, not a broken probe
		return models.StatusDown, nil
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= 200 && resp.StatusCode < 400 {
		return models.StatusUp, nil
	}
	return models.StatusDown, nil
}
