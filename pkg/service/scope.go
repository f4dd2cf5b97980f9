package service

import (
	"context"
	"errors"
	"sync"

	"github.com/ttm56p/arsenic/pkg/engine"
	apperrors "github.com/ttm56p/arsenic/pkg/errors"
	"github.com/ttm56p/arsenic/pkg/webdriver"
)

// Context binds a Service to an Engine and holds at most one live driver.
// Enter starts the driver; Exit closes it and returns the Context to idle.
type Context struct {
	svc Service
	eng engine.Engine

	mu     sync.Mutex
	driver *webdriver.Driver
}

// Run prepares a scoped session. Nothing is started until Enter.
func Run(svc Service, eng engine.Engine) *Context {
	return &Context{svc: svc, eng: eng}
}

// Enter starts the service. A failed start leaves the Context idle and
// nothing acquired.
func (c *Context) Enter(ctx context.Context) (*webdriver.Driver, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.driver != nil {
		return nil, apperrors.New(apperrors.ErrCodeInvalidInput, "scoped session already active").
			WithContext("driver_id", c.driver.ID())
	}
	d, err := c.svc.Start(ctx, c.eng)
	if err != nil {
		return nil, err
	}
	c.driver = d
	return d, nil
}

// Exit closes the active driver, if any. Exiting an idle Context is a no-op.
func (c *Context) Exit(ctx context.Context) error {
	c.mu.Lock()
	d := c.driver
	c.driver = nil
	c.mu.Unlock()
	if d == nil {
		return nil
	}
	return d.Close(ctx)
}

// Driver returns the active driver, or nil when idle.
func (c *Context) Driver() *webdriver.Driver {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.driver
}

// With starts svc, runs fn with the driver and closes the driver exactly
// once however fn ends: normal return, error, panic or cancellation of ctx.
// A close failure is joined after fn's error.
func With(ctx context.Context, svc Service, eng engine.Engine, fn func(ctx context.Context, d *webdriver.Driver) error) (err error) {
	scope := Run(svc, eng)
	d, err := scope.Enter(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if exitErr := scope.Exit(ctx); exitErr != nil {
			err = errors.Join(err, exitErr)
		}
	}()
	return fn(ctx, d)
}
