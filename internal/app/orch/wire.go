package orch

import (
	"context"

	"github.com/pkg/errors"

	"github.com/dkeye/Meet/internal/app"
	"github.com/dkeye/Meet/internal/config"
)

// New builds an orchestrator with the broker selected by cfg.Broker.Kind.
func New(ctx context.Context, cfg *config.Config) (*Orchestrator, error) {
	var broker app.Broker
	switch cfg.Broker.Kind {
	case "", "memory":
		broker = app.NewMemoryBroker(cfg.Broker.Buffer)
	case "redis":
		rb, err := app.NewRedisBroker(ctx, cfg.Broker.Addr, cfg.Broker.Password, cfg.Broker.DB)
		if err != nil {
			return nil, err
		}
		broker = rb
	default:
		return nil, errors.Errorf("unknown broker kind %q", cfg.Broker.Kind)
	}

	return &Orchestrator{
		Registry:  app.NewRegistry(),
		Meetings:  app.NewMeetingManager(),
		Policy:    app.SimplePolicy{},
		Broker:    broker,
		Tokens:    app.NewTokenIssuer(cfg.Secret, cfg.TokenTTL),
		Limiter:   app.NewSendRateLimiter(cfg.RateLimit.Messages, cfg.RateLimit.Interval),
		EventName: cfg.EventName,
	}, nil
}
