package health

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"dca_bot/internal/modules/config"
	"dca_bot/internal/modules/health/service"
	metrics "dca_bot/internal/modules/metrics/service"
	"dca_bot/pkg/kv"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

const defaultAddr = ":8080"

// Server — HTTP для проб оркестратора и Prometheus.
type Server struct {
	srv *http.Server
	log *zap.Logger
}

func NewServer(cfg *config.Config, state *service.State, store kv.Store, m *metrics.Metrics, log *zap.Logger) *Server {
	addr := cfg.Service.HealthAddr
	if addr == "" {
		addr = defaultAddr
	}
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           service.NewMux(state, store, m.Registry),
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      10 * time.Second,
		},
		log: log.Named("health"),
	}
}

func (s *Server) start(context.Context) error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	s.log.Info("[HEALTH] listening", zap.String("addr", ln.Addr().String()))
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("[HEALTH] serve failed", zap.Error(err))
		}
	}()
	return nil
}

func (s *Server) stop(ctx context.Context) error { return s.srv.Shutdown(ctx) }

func Module() fx.Option {
	return fx.Module("health",
		fx.Provide(
			service.NewState,
			NewServer,
		),
		fx.Invoke(func(lc fx.Lifecycle, s *Server) {
			lc.Append(fx.Hook{OnStart: s.start, OnStop: s.stop})
		}),
	)
}
