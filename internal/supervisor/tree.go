// Package supervisor runs the server's long-lived services under a suture tree.
package supervisor

import (
	"context"
	"time"

	"github.com/thejerf/suture/v4"
	"go.uber.org/zap"
)

// TreeConfig holds restart policy for every supervisor in the tree.
type TreeConfig struct {
	FailureThreshold float64
	FailureDecay     float64 // seconds
	FailureBackoff   time.Duration
	ShutdownTimeout  time.Duration
}

func DefaultTreeConfig() TreeConfig {
	return TreeConfig{
		FailureThreshold: 5,
		FailureDecay:     30,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  10 * time.Second,
	}
}

// Tree is root -> {api, background}. Listeners go under api, periodic jobs such as
// the presence sweeper under background.
type Tree struct {
	root       *suture.Supervisor
	api        *suture.Supervisor
	background *suture.Supervisor
}

func New(log *zap.Logger, cfg TreeConfig) *Tree {
	def := DefaultTreeConfig()
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.FailureDecay == 0 {
		cfg.FailureDecay = def.FailureDecay
	}
	if cfg.FailureBackoff == 0 {
		cfg.FailureBackoff = def.FailureBackoff
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}

	spec := suture.Spec{
		FailureThreshold: cfg.FailureThreshold,
		FailureDecay:     cfg.FailureDecay,
		FailureBackoff:   cfg.FailureBackoff,
		Timeout:          cfg.ShutdownTimeout,
		EventHook:        ZapHook(log),
	}

	t := &Tree{
		root:       suture.New("talko", spec),
		api:        suture.New("api", spec),
		background: suture.New("background", spec),
	}
	t.root.Add(t.api)
	t.root.Add(t.background)
	return t
}

func (t *Tree) AddAPI(svc suture.Service) suture.ServiceToken { return t.api.Add(svc) }

func (t *Tree) AddBackground(svc suture.Service) suture.ServiceToken { return t.background.Add(svc) }

// Serve blocks until ctx is done or the root gives up.
func (t *Tree) Serve(ctx context.Context) error { return t.root.Serve(ctx) }

// ZapHook forwards supervisor events to log. Panics and terminations are errors, backoff is a warning.
func ZapHook(log *zap.Logger) suture.EventHook {
	return func(e suture.Event) {
		fields := make([]zap.Field, 0, len(e.Map()))
		for k, v := range e.Map() {
			fields = append(fields, zap.Any(k, v))
		}
		switch e.Type() {
		case suture.EventTypeServicePanic, suture.EventTypeServiceTerminate:
			log.Error(e.String(), fields...)
		case suture.EventTypeBackoff:
			log.Warn(e.String(), fields...)
		default:
			log.Info(e.String(), fields...)
		}
	}
}
