// Package probe waits for a freshly spawned driver to accept requests.
//
// The prober issues GET <base>/status until any response arrives. Each
// attempt is classified as Ready, NotReadyYet or Fatal; only NotReadyYet is
// retried, on a fixed interval, up to a fixed attempt budget.
package probe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/ttm56p/arsenic/pkg/engine"
	apperrors "github.com/ttm56p/arsenic/pkg/errors"
	"github.com/ttm56p/arsenic/pkg/logging"
	"github.com/ttm56p/arsenic/pkg/observability"
	"github.com/ttm56p/arsenic/pkg/telemetry"
)

const (
	DefaultAttempts = 30
	DefaultInterval = 500 * time.Millisecond
)

// Config bounds the probe loop. Zero fields take the defaults.
type Config struct {
	Attempts int           `yaml:"attempts" json:"attempts"`
	Interval time.Duration `yaml:"interval" json:"interval"`
}

func (c Config) withDefaults() Config {
	if c.Attempts <= 0 {
		c.Attempts = DefaultAttempts
	}
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	return c
}

// Outcome is the classification of a single probe attempt.
type Outcome int

const (
	NotReadyYet Outcome = iota
	Ready
	Fatal
)

func (o Outcome) String() string {
	switch o {
	case Ready:
		return "ready"
	case Fatal:
		return "fatal"
	default:
		return "not_ready"
	}
}

// Classify maps the error of one status request onto an Outcome. Any
// response is Ready. Cancellation of ctx, requests that can never be built
// and use of a closed session are Fatal. Every other failure is transient.
func Classify(ctx context.Context, err error) Outcome {
	switch {
	case err == nil:
		return Ready
	case ctx.Err() != nil:
		return Fatal
	case apperrors.IsCode(err, apperrors.ErrCodeInvalidInput),
		errors.Is(err, apperrors.ErrClosed):
		return Fatal
	default:
		return NotReadyYet
	}
}

// Result reports how much work a probe did.
type Result struct {
	Attempts int
	Sleeps   int
	Elapsed  time.Duration
}

// StatusURL returns the health endpoint for baseURL. baseURL must be an
// absolute http or https URL.
func StatusURL(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrCodeInvalidInput, "parse base url").
			WithContext("url", baseURL)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", apperrors.New(apperrors.ErrCodeInvalidInput, "base url must be absolute http(s)").
			WithContext("url", baseURL)
	}
	return u.JoinPath("status").String(), nil
}

// WaitReady blocks until the driver at baseURL answers, the budget runs out
// or a fatal condition occurs.
func WaitReady(ctx context.Context, eng engine.Engine, sess engine.Session, baseURL string, cfg Config) error {
	_, err := Probe(ctx, eng, sess, baseURL, cfg)
	return err
}

// Probe is WaitReady that also reports what it did. Exhausting the budget
// returns a SERVICE_START error wrapping the last transient failure.
func Probe(ctx context.Context, eng engine.Engine, sess engine.Session, baseURL string, cfg Config) (res Result, err error) {
	cfg = cfg.withDefaults()
	start := time.Now()

	ctx, span := observability.StartSpan(ctx, "probe.wait")
	defer func() {
		res.Elapsed = time.Since(start)
		span.SetAttributes(observability.AttrAttempts.Int(res.Attempts))
		observability.EndSpan(span, err)
		if res.Attempts > 0 {
			observability.ProbeAttempts.Observe(float64(res.Attempts))
		}
	}()

	statusURL, err := StatusURL(baseURL)
	if err != nil {
		return res, err
	}
	span.SetAttributes(observability.AttrBaseURL.String(baseURL))

	log := logging.FromContext(ctx)
	hub := telemetry.FromContext(ctx)

	var lastErr error
	for res.Attempts < cfg.Attempts {
		res.Attempts++
		_, reqErr := sess.Request(ctx, engine.Request{Method: http.MethodGet, URL: statusURL})

		switch Classify(ctx, reqErr) {
		case Ready:
			return res, nil
		case Fatal:
			if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(reqErr, ctxErr) {
				return res, ctxErr
			}
			return res, reqErr
		}

		lastErr = reqErr
		log.ProbeAttempt(statusURL, res.Attempts, reqErr)
		hub.Publish(telemetry.Event{
			Type: telemetry.EventProbeAttempt,
			Data: map[string]any{"attempt": res.Attempts, "url": statusURL, "error": reqErr.Error()},
		})

		if err := eng.Sleep(ctx, cfg.Interval); err != nil {
			return res, err
		}
		res.Sleeps++
	}

	return res, apperrors.Wrap(lastErr, apperrors.ErrCodeServiceStart, "not starting?").
		WithContext("attempts", res.Attempts).
		WithContext("url", statusURL)
}

// String renders a result for logs.
func (r Result) String() string {
	return fmt.Sprintf("attempts=%d sleeps=%d elapsed=%s", r.Attempts, r.Sleeps, r.Elapsed)
}
