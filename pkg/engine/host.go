package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	apperrors "github.com/ttm56p/arsenic/pkg/errors"
)

const (
	defaultRequestTimeout   = 2 * time.Second
	defaultTerminationGrace = 5 * time.Second
	maxResponseBytes        = 8 << 20
)

// HostConfig tunes the host engine.
type HostConfig struct {
	// RequestTimeout bounds a single HTTP request. Zero uses 2s.
	RequestTimeout time.Duration

	// RequestsPerSecond limits requests per session. Zero disables limiting.
	RequestsPerSecond float64
	Burst             int

	// TerminationGrace is the wait between SIGTERM and SIGKILL. Zero uses 5s.
	TerminationGrace time.Duration
}

func (c HostConfig) withDefaults() HostConfig {
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = defaultRequestTimeout
	}
	if c.TerminationGrace <= 0 {
		c.TerminationGrace = defaultTerminationGrace
	}
	if c.RequestsPerSecond > 0 && c.Burst <= 0 {
		c.Burst = 1
	}
	return c
}

// Host runs drivers on the local machine.
type Host struct {
	cfg HostConfig
}

var _ Engine = (*Host)(nil)

// NewHost creates a host engine.
func NewHost(cfg HostConfig) *Host {
	return &Host{cfg: cfg.withDefaults()}
}

// SpawnProcess starts argv in its own process group.
func (h *Host) SpawnProcess(ctx context.Context, argv []string, env []string, logFile string) (Process, error) {
	if len(argv) == 0 {
		return nil, apperrors.ProcessSpawn(errors.New("empty command"), "")
	}
	if err := ctx.Err(); err != nil {
		return nil, apperrors.ProcessSpawn(err, argv[0])
	}
	if logFile == "" {
		logFile = os.DevNull
	}
	out, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, apperrors.ProcessSpawn(fmt.Errorf("open log file: %w", err), argv[0])
	}

	// Not CommandContext: the driver outlives the start call.
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Env = env
	cmd.Stdout = out
	cmd.Stderr = out
	setProcessGroup(cmd)

	if err := cmd.Start(); err != nil {
		_ = out.Close()
		return nil, apperrors.ProcessSpawn(err, argv[0])
	}

	p := &hostProcess{
		cmd:   cmd,
		grace: h.cfg.TerminationGrace,
		done:  make(chan struct{}),
	}
	go func() {
		p.waitErr = cmd.Wait()
		_ = out.Close()
		close(p.done)
	}()
	return p, nil
}

// OpenSession creates an HTTP session with its own connection pool.
func (h *Host) OpenSession(ctx context.Context, auth *Auth) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Session(err)
	}
	if auth != nil && auth.Username == "" {
		return nil, apperrors.Session(errors.New("auth requires a username"))
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	s := &hostSession{
		transport: transport,
		client:    &http.Client{Transport: transport},
		timeout:   h.cfg.RequestTimeout,
	}
	if auth != nil {
		creds := *auth
		s.auth = &creds
	}
	if h.cfg.RequestsPerSecond > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(h.cfg.RequestsPerSecond), h.cfg.Burst)
	}
	return s, nil
}

// Sleep waits for d or until ctx is done.
func (h *Host) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type hostProcess struct {
	cmd     *exec.Cmd
	grace   time.Duration
	done    chan struct{}
	waitErr error

	closeOnce sync.Once
}

// Pid returns the OS process id.
func (p *hostProcess) Pid() int {
	return p.cmd.Process.Pid
}

// Close terminates the process group: SIGTERM, grace period, SIGKILL.
// Safe to call multiple times.
func (p *hostProcess) Close(ctx context.Context) error {
	p.closeOnce.Do(func() {
		select {
		case <-p.done:
			return
		default:
		}
		_ = terminate(p.cmd.Process)

		timer := time.NewTimer(p.grace)
		defer timer.Stop()
		select {
		case <-p.done:
		case <-timer.C:
			_ = kill(p.cmd.Process)
			<-p.done
		case <-ctx.Done():
			_ = kill(p.cmd.Process)
			<-p.done
		}
	})
	<-p.done
	return nil
}

type hostSession struct {
	transport *http.Transport
	client    *http.Client
	auth      *Auth
	limiter   *rate.Limiter
	timeout   time.Duration
	closed    atomic.Bool
}

func (s *hostSession) Request(ctx context.Context, req Request) (*Response, error) {
	if s.closed.Load() {
		return nil, apperrors.ErrClosed
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	reqCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, method, req.URL, body)
	if err != nil {
		// A request that cannot be built will never succeed.
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInvalidInput, "build request").
			WithContext("url", req.URL)
	}
	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json; charset=utf-8")
	}
	if s.auth != nil {
		httpReq.SetBasicAuth(s.auth.Username, s.auth.Password)
	}

	if s.limiter != nil {
		if err := s.limiter.Wait(reqCtx); err != nil {
			return nil, apperrors.Request(err, method, req.URL)
		}
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, apperrors.Request(err, method, req.URL)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, apperrors.Request(fmt.Errorf("read body: %w", err), method, req.URL)
	}
	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
	}, nil
}

// Close drops pooled connections. Later requests fail with ErrClosed.
func (s *hostSession) Close(context.Context) error {
	if s.closed.Swap(true) {
		return nil
	}
	s.transport.CloseIdleConnections()
	return nil
}
