// Package grpcserver runs the ops gRPC listener: grpc.health.v1 tied to storage readiness, plus optional reflection.
package grpcserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ChatService is the health service name reported alongside the overall ("") status.
const ChatService = "talko.Chat"

// Pinger reports storage readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options configure the listener.
type Options struct {
	Addr       string
	TLSCert    string
	TLSKey     string
	Reflection bool
	// ProbeEvery is how often readiness is re-checked. Zero means 5s.
	ProbeEvery time.Duration
	// StopTimeout bounds GracefulStop before a hard Stop. Zero means 5s.
	StopTimeout time.Duration
}

// Server owns a grpc.Server and its health state.
type Server struct {
	opts   Options
	srv    *grpc.Server
	health *health.Server
	probe  Pinger
	log    *zap.Logger
}

// New builds the server. TLS is enabled when both cert and key are set.
func New(opts Options, probe Pinger, log *zap.Logger) (*Server, error) {
	if opts.ProbeEvery <= 0 {
		opts.ProbeEvery = 5 * time.Second
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = 5 * time.Second
	}

	sopts := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(RecoverUnary(log), LoggingUnary(log)),
		grpc.ChainStreamInterceptor(RecoverStream(log), LoggingStream(log)),
	}
	switch {
	case opts.TLSCert != "" && opts.TLSKey != "":
		creds, err := credentials.NewServerTLSFromFile(opts.TLSCert, opts.TLSKey)
		if err != nil {
			return nil, fmt.Errorf("load tls: %w", err)
		}
		sopts = append(sopts, grpc.Creds(creds))
	case opts.TLSCert != "" || opts.TLSKey != "":
		return nil, errors.New("grpc: tls_cert and tls_key must be set together")
	}

	s := &Server{
		opts:   opts,
		srv:    grpc.NewServer(sopts...),
		health: health.NewServer(),
		probe:  probe,
		log:    log,
	}
	healthpb.RegisterHealthServer(s.srv, s.health)
	if opts.Reflection {
		reflection.Register(s.srv)
	}
	s.setServing(false)
	return s, nil
}

func (s *Server) setServing(ok bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if ok {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(ChatService, st)
}

// Check pings storage once and publishes the result. It returns the ping error.
func (s *Server) Check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	err := s.probe.Ping(ctx)
	s.setServing(err == nil)
	return err
}

// Serve listens on Options.Addr until ctx is done.
func (s *Server) Serve(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	return s.ServeListener(ctx, lis)
}

// ServeListener serves on lis until ctx is done, then stops gracefully.
func (s *Server) ServeListener(ctx context.Context, lis net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("grpc listening", zap.String("addr", lis.Addr().String()))
		errCh <- s.srv.Serve(lis)
	}()

	prev := s.Check(ctx)
	t := time.NewTicker(s.opts.ProbeEvery)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			s.stop()
			return nil
		case err := <-errCh:
			return fmt.Errorf("grpc serve: %w", err)
		case <-t.C:
			err := s.Check(ctx)
			if (err == nil) != (prev == nil) {
				if err != nil {
					s.log.Warn("storage not ready", zap.Error(err))
				} else {
					s.log.Info("storage ready")
				}
			}
			prev = err
		}
	}
}

func (s *Server) stop() {
	s.health.Shutdown()
	done := make(chan struct{})
	go func() {
		s.srv.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(s.opts.StopTimeout):
		s.srv.Stop()
	}
}

func (s *Server) String() string { return "grpc" }
