package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/signalsfoundry/conveyor-simulator/internal/config"
	"github.com/signalsfoundry/conveyor-simulator/internal/logging"
	"github.com/signalsfoundry/conveyor-simulator/internal/observability"
)

// listeners holds the bound sockets for each surface; a nil listener means
// the surface is disabled.
type listeners struct {
	http    net.Listener
	grpc    net.Listener
	metrics net.Listener
}

func listenAll(cfg config.Config) (listeners, error) {
	var l listeners
	var err error
	if l.http, err = listen(cfg.HTTPAddr); err != nil {
		return l, fmt.Errorf("control api: %w", err)
	}
	if l.grpc, err = listen(cfg.GRPCAddr); err != nil {
		l.close()
		return l, fmt.Errorf("grpc: %w", err)
	}
	if l.metrics, err = listen(cfg.MetricsAddr); err != nil {
		l.close()
		return l, fmt.Errorf("metrics: %w", err)
	}
	return l, nil
}

func listen(addr string) (net.Listener, error) {
	if addr == "" {
		return nil, nil
	}
	return net.Listen("tcp", addr)
}

func (l listeners) close() {
	for _, lis := range []net.Listener{l.http, l.grpc, l.metrics} {
		if lis != nil {
			_ = lis.Close()
		}
	}
}

func serveHTTP(lis net.Listener, name string, handler http.Handler, log logging.Logger) *http.Server {
	if lis == nil {
		return nil
	}
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn(context.Background(), name+" server exited", logging.Err(err))
		}
	}()
	log.Info(context.Background(), "serving "+name, logging.String("addr", lis.Addr().String()))
	return srv
}

func serveMetrics(lis net.Listener, collector *observability.SimCollector, log logging.Logger) *http.Server {
	if collector == nil {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())
	return serveHTTP(lis, "Prometheus metrics", mux, log)
}

func shutdownHTTP(ctx context.Context, srvs ...*http.Server) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	for _, srv := range srvs {
		if srv != nil {
			_ = srv.Shutdown(ctx)
		}
	}
}
