package deploy

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/opengantry/opengantry/pkg/config"
)

// HealthCheckExhausted means every probe failed. It is warning-level: the
// applied remote state stays in place and the caller decides what to do
// with a deployed-but-unhealthy service.
type HealthCheckExhausted struct {
	Attempts   int
	LastStatus int
	LastErr    error
}

func (e *HealthCheckExhausted) Error() string {
	if e.LastErr != nil {
		return fmt.Sprintf("health check failed after %d probes: %v", e.Attempts, e.LastErr)
	}
	return fmt.Sprintf("health check failed after %d probes, last status %d without expected marker", e.Attempts, e.LastStatus)
}

func (e *HealthCheckExhausted) Unwrap() error { return e.LastErr }

// Verifier polls the declared health endpoint until a probe passes or the
// attempt budget runs out.
type Verifier struct {
	client *http.Client
	log    zerolog.Logger
}

// NewVerifier creates a verifier with a per-probe HTTP timeout.
func NewVerifier(log zerolog.Logger) *Verifier {
	return &Verifier{
		client: &http.Client{Timeout: 10 * time.Second},
		log:    log.With().Str("component", "verifier").Logger(),
	}
}

// Verify probes http://host:port/path up to MaxAttempts times. A probe
// passes only when the transport succeeds and the body contains the
// declared marker; a 200 serving a generic default page does not pass.
// The first probe waits out InitialDelay, services need warm-up time
// before probing is meaningful.
func (v *Verifier) Verify(ctx context.Context, host string, spec config.HealthCheckSpec) error {
	url := fmt.Sprintf("http://%s:%d%s", host, spec.Port, spec.Path)

	if spec.InitialDelay > 0 {
		v.log.Debug().Dur("delay", spec.InitialDelay).Msg("waiting before first probe")
		select {
		case <-time.After(spec.InitialDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	var lastStatus int
	var lastErr error

	for attempt := 1; attempt <= spec.MaxAttempts; attempt++ {
		status, body, err := v.probe(ctx, url)
		if err == nil && strings.Contains(body, spec.ExpectedMarker) {
			v.log.Info().Int("attempt", attempt).Msg("health check passed")
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		lastStatus, lastErr = status, err
		v.log.Debug().
			Int("attempt", attempt).
			Int("status", status).
			Err(err).
			Msg("probe not passing")

		if attempt < spec.MaxAttempts {
			select {
			case <-time.After(spec.Interval):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	return &HealthCheckExhausted{
		Attempts:   spec.MaxAttempts,
		LastStatus: lastStatus,
		LastErr:    lastErr,
	}
}

func (v *Verifier) probe(ctx context.Context, url string) (int, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, "", err
	}
	resp, err := v.client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, "", err
	}
	return resp.StatusCode, string(body), nil
}
