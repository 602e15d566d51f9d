package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/matheus3301/chatsync/internal/status"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// DebugServer serves Prometheus metrics and a health probe over TCP. It is
// disabled when no address is configured.
type DebugServer struct {
	addr    string
	server  *http.Server
	machine *status.Machine
	logger  *zap.Logger
}

// NewDebugServer builds the router. addr may be empty.
func NewDebugServer(addr string, reg *prometheus.Registry, machine *status.Machine, logger *zap.Logger) *DebugServer {
	d := &DebugServer{addr: addr, machine: machine, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	r.Get("/healthz", d.health)

	d.server = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return d
}

// Handler returns the router, for tests.
func (d *DebugServer) Handler() http.Handler {
	return d.server.Handler
}

type healthReply struct {
	Connection string    `json:"connection"`
	Since      time.Time `json:"since"`
}

// health reports the connection state. It answers 200 in every state.
func (d *DebugServer) health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(healthReply{
		Connection: string(d.machine.Current()),
		Since:      d.machine.Since(),
	})
}

// Start listens and serves in the background. It is a no-op without an
// address.
func (d *DebugServer) Start() error {
	if d.addr == "" {
		return nil
	}
	ln, err := net.Listen("tcp", d.addr)
	if err != nil {
		return err
	}
	d.logger.Info("debug server starting", zap.String("addr", ln.Addr().String()))
	go func() {
		if err := d.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			d.logger.Error("debug server error", zap.Error(err))
		}
	}()
	return nil
}

// Stop shuts the server down.
func (d *DebugServer) Stop(ctx context.Context) {
	if d.addr == "" {
		return
	}
	_ = d.server.Shutdown(ctx)
}
