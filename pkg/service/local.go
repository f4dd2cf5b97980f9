package service

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/ttm56p/arsenic/pkg/engine"
	apperrors "github.com/ttm56p/arsenic/pkg/errors"
	"github.com/ttm56p/arsenic/pkg/probe"
	"github.com/ttm56p/arsenic/pkg/rollback"
	"github.com/ttm56p/arsenic/pkg/webdriver"
)

// Geckodriver launches a local geckodriver, invoked as
// `geckodriver --port <port> [arguments...]`.
type Geckodriver struct {
	// Binary defaults to "geckodriver" looked up on PATH.
	Binary string
	// Port zero picks a free loopback port.
	Port int
	// LogFile receives the driver's output. Empty discards it.
	LogFile   string
	Arguments []string
	Readiness probe.Config
}

func (Geckodriver) Kind() Kind { return KindGeckodriver }
func (Geckodriver) isService() {}

// Start spawns geckodriver and waits until it answers.
func (g Geckodriver) Start(ctx context.Context, eng engine.Engine) (*webdriver.Driver, error) {
	return instrument(ctx, KindGeckodriver, func(ctx context.Context) (*webdriver.Driver, error) {
		return startLocal(ctx, eng, localPlan{
			kind:      KindGeckodriver,
			binary:    orDefault(g.Binary, "geckodriver"),
			portArgs:  func(p int) []string { return []string{"--port", strconv.Itoa(p)} },
			port:      g.Port,
			logFile:   g.LogFile,
			arguments: g.Arguments,
			readiness: g.Readiness,
		})
	})
}

// Chromedriver launches a local chromedriver, invoked as
// `chromedriver --port=<port> [arguments...]`.
type Chromedriver struct {
	Binary    string
	Port      int
	LogFile   string
	Arguments []string
	Readiness probe.Config
}

func (Chromedriver) Kind() Kind { return KindChromedriver }
func (Chromedriver) isService() {}

// Start spawns chromedriver and waits until it answers.
func (c Chromedriver) Start(ctx context.Context, eng engine.Engine) (*webdriver.Driver, error) {
	return instrument(ctx, KindChromedriver, func(ctx context.Context) (*webdriver.Driver, error) {
		return startLocal(ctx, eng, localPlan{
			kind:      KindChromedriver,
			binary:    orDefault(c.Binary, "chromedriver"),
			portArgs:  func(p int) []string { return []string{"--port=" + strconv.Itoa(p)} },
			port:      c.Port,
			logFile:   c.LogFile,
			arguments: c.Arguments,
			readiness: c.Readiness,
		})
	})
}

type localPlan struct {
	kind      Kind
	binary    string
	portArgs  func(port int) []string
	port      int
	logFile   string
	arguments []string
	readiness probe.Config
}

func (s localPlan) argv(port int) []string {
	argv := make([]string, 0, 2+len(s.arguments))
	argv = append(argv, s.binary)
	argv = append(argv, s.portArgs(port)...)
	return append(argv, s.arguments...)
}

// startLocal runs the plan spawn -> open session -> probe. A failure at any
// step releases what was acquired before it.
func startLocal(ctx context.Context, eng engine.Engine, plan localPlan) (*webdriver.Driver, error) {
	port := plan.port
	if port == 0 {
		free, err := FreePort()
		if err != nil {
			return nil, err
		}
		port = free
	}
	baseURL := fmt.Sprintf("http://localhost:%d", port)
	argv := plan.argv(port)

	var sess engine.Session
	held, err := rollback.Acquire(ctx,
		rollback.Step{Name: "spawn", Run: func(ctx context.Context) (rollback.Closer, error) {
			proc, err := eng.SpawnProcess(ctx, argv, engine.Environ(), plan.logFile)
			if err != nil {
				return nil, err
			}
			return proc.Close, nil
		}},
		rollback.Step{Name: "session", Run: func(ctx context.Context) (rollback.Closer, error) {
			s, err := eng.OpenSession(ctx, nil)
			if err != nil {
				return nil, err
			}
			sess = s
			return s.Close, nil
		}},
		rollback.Step{Name: "probe", Run: func(ctx context.Context) (rollback.Closer, error) {
			return nil, probe.WaitReady(ctx, eng, sess, baseURL, plan.readiness)
		}},
	)
	if err != nil {
		return nil, err
	}
	return webdriver.New(string(plan.kind), eng, webdriver.Connection{Session: sess, BaseURL: baseURL}, held), nil
}

// FreePort asks the kernel for an unused loopback TCP port. The port is
// released before returning, so another process may claim it first.
func FreePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, apperrors.Wrap(err, apperrors.ErrCodeInternal, "allocate free port")
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
