// Package webdriver holds the handle returned by a successful service start:
// a live connection to the driver plus ownership of everything that must be
// released when the driver is no longer needed.
package webdriver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/ttm56p/arsenic/pkg/engine"
	apperrors "github.com/ttm56p/arsenic/pkg/errors"
	"github.com/ttm56p/arsenic/pkg/logging"
	"github.com/ttm56p/arsenic/pkg/observability"
	"github.com/ttm56p/arsenic/pkg/rollback"
	"github.com/ttm56p/arsenic/pkg/telemetry"
)

// Connection pairs an open HTTP session with the driver's base URL.
type Connection struct {
	Session engine.Session
	BaseURL string
}

// Request issues method against path, resolved relative to the base URL.
func (c Connection) Request(ctx context.Context, method, path string, body []byte) (*engine.Response, error) {
	if c.Session == nil {
		return nil, apperrors.ErrClosed
	}
	target, err := url.JoinPath(c.BaseURL, strings.TrimPrefix(path, "/"))
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInvalidInput, "resolve driver path").
			WithContext("base_url", c.BaseURL).
			WithContext("path", path)
	}
	return c.Session.Request(ctx, engine.Request{Method: method, URL: target, Body: body})
}

// Status is the decoded value of a WebDriver status reply.
type Status struct {
	Ready   bool   `json:"ready"`
	Message string `json:"message"`
}

// Status queries GET /status. Drivers that answer with a body that is not
// a WebDriver status document report an empty Status.
func (c Connection) Status(ctx context.Context) (Status, int, error) {
	resp, err := c.Request(ctx, http.MethodGet, "status", nil)
	if err != nil {
		return Status{}, 0, err
	}
	var reply struct {
		Value Status `json:"value"`
	}
	_ = json.Unmarshal(resp.Body, &reply)
	return reply.Value, resp.StatusCode, nil
}

// Driver is a usable driver together with the closers of every resource
// acquired to reach it. Close releases them in reverse acquisition order.
type Driver struct {
	id     string
	kind   string
	conn   Connection
	engine engine.Engine

	mu      sync.Mutex
	closers *rollback.Stack
	closed  bool
}

// New takes ownership of closers; the caller's stack is left empty.
func New(kind string, eng engine.Engine, conn Connection, closers *rollback.Stack) *Driver {
	observability.ActiveDrivers.Inc()
	return &Driver{
		id:      ulid.Make().String(),
		kind:    kind,
		conn:    conn,
		engine:  eng,
		closers: closers.Take(),
	}
}

func (d *Driver) ID() string   { return d.id }
func (d *Driver) Kind() string { return d.kind }

// Connection returns the driver connection.
func (d *Driver) Connection() Connection { return d.conn }

// Engine returns the engine that started the driver.
func (d *Driver) Engine() engine.Engine { return d.engine }

// BaseURL returns the root URL of the driver.
func (d *Driver) BaseURL() string { return d.conn.BaseURL }

// Closers reports how many resources the driver still owns.
func (d *Driver) Closers() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closers.Len()
}

// Closed reports whether Close has been called.
func (d *Driver) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// Request issues a request through the driver connection.
func (d *Driver) Request(ctx context.Context, method, path string, body []byte) (*engine.Response, error) {
	if d.Closed() {
		return nil, apperrors.ErrClosed
	}
	return d.conn.Request(ctx, method, path, body)
}

// Status queries the driver's status endpoint.
func (d *Driver) Status(ctx context.Context) (Status, int, error) {
	if d.Closed() {
		return Status{}, 0, apperrors.ErrClosed
	}
	return d.conn.Status(ctx)
}

// Close runs every owned closer exactly once, in reverse order. Every
// closer is attempted; their failures are joined. Later calls do nothing
// and return nil.
func (d *Driver) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	owned := d.closers.Take()
	d.mu.Unlock()

	count := owned.Len()
	err := owned.Unwind(context.WithoutCancel(ctx))
	observability.ActiveDrivers.Dec()

	log := logging.FromContext(ctx).WithDriver(d.id, d.conn.BaseURL)
	if err != nil {
		log.Warn("driver closed with errors", "closers", count, "error", err.Error())
	} else {
		log.Debug("driver closed", "closers", count)
	}
	telemetry.FromContext(ctx).Publish(telemetry.Event{
		Type:     telemetry.EventDriverClosed,
		Service:  d.kind,
		DriverID: d.id,
		Data:     map[string]any{"closers": count, "failed": err != nil},
	})
	return err
}
