package service

import (
	"context"

	"github.com/ttm56p/arsenic/pkg/engine"
	"github.com/ttm56p/arsenic/pkg/probe"
	"github.com/ttm56p/arsenic/pkg/rollback"
	"github.com/ttm56p/arsenic/pkg/webdriver"
)

// Remote attaches to a driver that is already running at URL. Nothing is
// spawned and no readiness probe runs.
type Remote struct {
	URL  string
	Auth *engine.Auth
}

func (Remote) Kind() Kind { return KindRemote }
func (Remote) isService() {}

// Start opens a session against the remote endpoint.
func (r Remote) Start(ctx context.Context, eng engine.Engine) (*webdriver.Driver, error) {
	return instrument(ctx, KindRemote, func(ctx context.Context) (*webdriver.Driver, error) {
		if _, err := probe.StatusURL(r.URL); err != nil {
			return nil, err
		}

		var sess engine.Session
		held, err := rollback.Acquire(ctx,
			rollback.Step{Name: "session", Run: func(ctx context.Context) (rollback.Closer, error) {
				s, err := eng.OpenSession(ctx, r.Auth)
				if err != nil {
					return nil, err
				}
				sess = s
				return s.Close, nil
			}},
		)
		if err != nil {
			return nil, err
		}
		return webdriver.New(string(KindRemote), eng, webdriver.Connection{Session: sess, BaseURL: r.URL}, held), nil
	})
}
