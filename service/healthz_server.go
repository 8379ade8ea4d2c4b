package service

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"

	"github.com/ethereum/go-ethereum/log"
	"github.com/rs/cors"
)

// HealthzServer answers /healthz with the status of the latest test run
type HealthzServer struct {
	log log.Logger

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	lastErr  error
}

func NewHealthzServer(logger log.Logger) *HealthzServer {
	if logger == nil {
		logger = log.New()
	}
	return &HealthzServer{log: logger}
}

// Start listens on addr and serves in the background. It returns once the
// listener is bound.
func (h *HealthzServer) Start(addr string) error {
	hdlr := http.NewServeMux()
	hdlr.HandleFunc("/healthz", h.Handle)
	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
	})
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	server := &http.Server{
		Handler: c.Handler(hdlr),
		Addr:    addr,
	}

	h.mu.Lock()
	h.server = server
	h.listener = listener
	h.mu.Unlock()

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.log.Error("Healthz server stopped", "err", err)
		}
	}()
	h.log.Info("Started healthz server", "addr", listener.Addr().String())
	return nil
}

// Addr returns the bound address, or nil before Start
func (h *HealthzServer) Addr() net.Addr {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.listener == nil {
		return nil
	}
	return h.listener.Addr()
}

func (h *HealthzServer) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	server := h.server
	h.mu.Unlock()
	if server == nil {
		return nil
	}
	return server.Shutdown(ctx)
}

// SetError makes health checks fail with err until it is cleared with nil
func (h *HealthzServer) SetError(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastErr = err
}

func (h *HealthzServer) Handle(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	lastErr := h.lastErr
	h.mu.Unlock()

	h.log.Debug("Received health check request", "path", r.URL.Path)
	if lastErr != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(lastErr.Error())) //nolint:errcheck
		return
	}
	w.Write([]byte("OK")) //nolint:errcheck
}
