package main

import (
	"context"
	"encoding/json"
	stdliberrors "errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	apperrors "github.com/ttm56p/arsenic/pkg/errors"
	"github.com/ttm56p/arsenic/pkg/logging"
	"github.com/ttm56p/arsenic/pkg/telemetry"
	"github.com/ttm56p/arsenic/pkg/webdriver"
)

const shutdownTimeout = 5 * time.Second

// serve exposes the driver until ctx is done. An empty listen address
// serves nothing and just holds the driver.
func serve(ctx context.Context, listen string, d *webdriver.Driver, hub *telemetry.Hub) error {
	log := logging.FromContext(ctx)
	g, ctx := errgroup.WithContext(ctx)

	events, unsubscribe := hub.Subscribe()
	defer unsubscribe()
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case ev, ok := <-events:
				if !ok {
					return nil
				}
				log.Debug("telemetry", "type", string(ev.Type), "service", ev.Service, "driver_id", ev.DriverID)
			}
		}
	})

	if listen != "" {
		srv := &http.Server{
			Addr:              listen,
			Handler:           newRouter(d),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			log.Info("serving", "listen", listen, "driver_id", d.ID(), "base_url", d.BaseURL())
			if err := srv.ListenAndServe(); err != nil && !stdliberrors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	} else {
		g.Go(func() error {
			<-ctx.Done()
			return nil
		})
	}

	return g.Wait()
}

func newRouter(d *webdriver.Driver) http.Handler {
	router := chi.NewRouter()
	router.Get("/healthz", handleHealth(d))
	router.Get("/driver", handleDriver(d))
	router.Method(http.MethodGet, "/metrics", promhttp.Handler())
	return router
}

type healthResponse struct {
	Status       string `json:"status"`
	DriverStatus int    `json:"driverStatus"`
	Ready        bool   `json:"ready"`
	Message      string `json:"message,omitempty"`
}

func handleHealth(d *webdriver.Driver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, code, err := d.Status(r.Context())
		if err != nil {
			respondError(w, http.StatusServiceUnavailable, err)
			return
		}
		respondJSON(w, healthResponse{
			Status:       "ok",
			DriverStatus: code,
			Ready:        status.Ready,
			Message:      status.Message,
		})
	}
}

type driverResponse struct {
	ID      string `json:"id"`
	Kind    string `json:"kind"`
	BaseURL string `json:"baseUrl"`
	Closers int    `json:"closers"`
}

func handleDriver(d *webdriver.Driver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, driverResponse{
			ID:      d.ID(),
			Kind:    d.Kind(),
			BaseURL: d.BaseURL(),
			Closers: d.Closers(),
		})
	}
}

func respondJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}

// respondError sends a structured JSON error response.
func respondError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)

	response := struct {
		Error     string `json:"error"`
		Status    int    `json:"status"`
		Code      string `json:"code,omitempty"`
		Retryable bool   `json:"retryable,omitempty"`
		Timestamp string `json:"timestamp"`
	}{
		Error:     http.StatusText(status),
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if err != nil {
		response.Error = err.Error()
	}
	if e, ok := apperrors.As(err); ok {
		response.Code = string(e.Code)
		response.Retryable = e.Retryable
	}
	_ = json.NewEncoder(w).Encode(response)
}
