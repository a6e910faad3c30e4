package web

import (
	"context"
	"crypto/tls"
	"fmt"
	"github.com/gin-gonic/gin"
	"harnspoller/cmd/poller/config"
	"harnspoller/cmd/poller/options"
	"harnspoller/pkg/binding"
	"harnspoller/pkg/generic"
	"harnspoller/pkg/metrics"
	"k8s.io/klog/v2"
	"net/http"
)

type Server struct {
	*generic.Server
	*config.Config
}

func NewServer(router *gin.Engine, o *options.Options, config *config.Config) (*Server, error) {
	s := &generic.Server{
		Router: router,
		Port:   o.Port,
	}

	server := &Server{
		Server: s,
		Config: config,
	}

	server.InstallHandlers()

	return server, nil
}

func (s *Server) InstallHandlers() {
	v1 := s.Router.Group("/api/v1")
	binding.InstallHandler(v1, s.Config.Manager)
	s.Router.GET("/metrics", gin.WrapH(metrics.Handler()))
}

func (s *Server) Serve() (func(ctx context.Context), error) {
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", s.Port),
		Handler: s.Router,
	}
	if len(s.Config.CertFile) != 0 && len(s.Config.KeyFile) != 0 {
		x509KeyPair, err := tls.LoadX509KeyPair(s.Config.CertFile, s.Config.KeyFile)
		if err != nil {
			return nil, err
		}
		srv.TLSConfig = &tls.Config{
			Certificates: []tls.Certificate{x509KeyPair},
		}
		go func() {
			if err := srv.ListenAndServeTLS("", ""); err != nil && err != http.ErrServerClosed {
				klog.ErrorS(err, "Failed to serve HTTPS", "addr", srv.Addr)
			}
		}()
	} else {
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				klog.ErrorS(err, "Failed to serve HTTP", "addr", srv.Addr)
			}
		}()
	}

	return func(ctx context.Context) {
		srv.SetKeepAlivesEnabled(false)
		if err := srv.Shutdown(ctx); err != nil {
			klog.ErrorS(err, "Failed to shutdown server")
		}
		s.shutdown(ctx)
	}, nil
}

// shutdown stops polling first so no transaction is started while the pool
// is being closed.
func (s *Server) shutdown(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Config.Manager.Close()
		if s.Config.MQTT != nil {
			s.Config.MQTT.Close()
		}
		s.Config.Scheduler.Close()
		s.Config.Pool.Close()
	}()
	select {
	case <-done:
		klog.V(1).InfoS("Poller stopped")
	case <-ctx.Done():
		klog.ErrorS(ctx.Err(), "Graceful shutdown timed out")
	}
}
