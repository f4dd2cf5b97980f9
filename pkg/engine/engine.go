// Package engine defines the capabilities a driver service needs from its
// host: spawning processes, opening HTTP sessions and sleeping. Host is the
// default implementation on top of os/exec and net/http.
package engine

import (
	"context"
	"net/http"
	"os"
	"time"
)

//go:generate mockgen -package=enginemock -destination=enginemock/mock_engine.go github.com/ttm56p/arsenic/pkg/engine Engine,Process,Session

// Engine supplies the primitives used to bring up a driver.
type Engine interface {
	// SpawnProcess starts argv with env, sending its output to logFile.
	// An empty logFile discards output. Failures are PROCESS_SPAWN errors.
	SpawnProcess(ctx context.Context, argv []string, env []string, logFile string) (Process, error)

	// OpenSession opens an HTTP session, optionally authenticated.
	// Failures are SESSION errors.
	OpenSession(ctx context.Context, auth *Auth) (Session, error)

	// Sleep suspends the caller for d. It only fails when ctx is done.
	Sleep(ctx context.Context, d time.Duration) error
}

// Process is a running child process.
type Process interface {
	Close(ctx context.Context) error
}

// Session issues HTTP requests.
type Session interface {
	Request(ctx context.Context, req Request) (*Response, error)
	Close(ctx context.Context) error
}

// Auth holds basic auth credentials for remote drivers.
type Auth struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"-"`
}

// Request is a single HTTP request issued through a Session.
type Request struct {
	Method string
	URL    string
	Body   []byte
}

// Response is the buffered result of a Request.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Environ returns the host environment passed through to spawned drivers.
func Environ() []string {
	return os.Environ()
}
