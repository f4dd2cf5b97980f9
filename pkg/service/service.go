// Package service describes how to obtain a WebDriver endpoint, either by
// launching a local driver binary or by attaching to a remote one, and
// provides a scoped wrapper that guarantees the resulting driver is closed.
package service

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/ttm56p/arsenic/pkg/engine"
	"github.com/ttm56p/arsenic/pkg/logging"
	"github.com/ttm56p/arsenic/pkg/observability"
	"github.com/ttm56p/arsenic/pkg/telemetry"
	"github.com/ttm56p/arsenic/pkg/webdriver"
)

// Kind names a service variant.
type Kind string

const (
	KindGeckodriver  Kind = "geckodriver"
	KindChromedriver Kind = "chromedriver"
	KindRemote       Kind = "remote"
)

// Service starts a driver on an engine. The set of implementations is
// closed: Geckodriver, Chromedriver and Remote. A Service is an immutable
// value and may be started any number of times; every start yields an
// independent driver that the caller must Close.
type Service interface {
	Start(ctx context.Context, eng engine.Engine) (*webdriver.Driver, error)
	Kind() Kind
	isService()
}

var (
	_ Service = Geckodriver{}
	_ Service = Chromedriver{}
	_ Service = Remote{}
)

// instrument wraps one start with logging, telemetry, metrics and a span.
func instrument(ctx context.Context, kind Kind, start func(ctx context.Context) (*webdriver.Driver, error)) (*webdriver.Driver, error) {
	began := time.Now()
	log := logging.FromContext(ctx).WithService(string(kind))
	ctx = logging.NewContext(ctx, log)
	hub := telemetry.FromContext(ctx)

	ctx, span := observability.StartSpan(ctx, "service.start",
		trace.WithAttributes(observability.AttrServiceKind.String(string(kind))))

	hub.Publish(telemetry.Event{Type: telemetry.EventServiceStarting, Service: string(kind)})

	d, err := start(ctx)
	elapsed := time.Since(began)
	observability.ServiceStartLatency.WithLabelValues(string(kind)).Observe(elapsed.Seconds())

	if err != nil {
		observability.ServiceStarts.WithLabelValues(string(kind), observability.OutcomeFailure).Inc()
		log.ServiceFailed(err, elapsed)
		hub.Publish(telemetry.Event{
			Type:    telemetry.EventServiceFailed,
			Service: string(kind),
			Data:    map[string]any{"error": err.Error()},
		})
		observability.EndSpan(span, err)
		return nil, err
	}

	observability.ServiceStarts.WithLabelValues(string(kind), observability.OutcomeSuccess).Inc()
	span.SetAttributes(
		observability.AttrDriverID.String(d.ID()),
		observability.AttrBaseURL.String(d.BaseURL()),
	)
	log.ServiceStarted(d.ID(), d.BaseURL(), elapsed)
	hub.Publish(telemetry.Event{
		Type:     telemetry.EventServiceStarted,
		Service:  string(kind),
		DriverID: d.ID(),
		Data:     map[string]any{"base_url": d.BaseURL(), "closers": d.Closers()},
	})
	observability.EndSpan(span, nil)
	return d, nil
}
