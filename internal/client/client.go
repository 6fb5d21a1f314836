// Package client assembles a session.Session from configuration.
package client

import (
	"github.com/pkg/errors"

	"github.com/dkeye/Meet/internal/adapters/longpoll"
	"github.com/dkeye/Meet/internal/adapters/rest"
	"github.com/dkeye/Meet/internal/adapters/wschannel"
	"github.com/dkeye/Meet/internal/config"
	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/session"
)

// Transports builds the named transports in the given priority order.
func Transports(cfg config.ClientConfig) ([]core.Transport, error) {
	names := cfg.Transports
	if len(names) == 0 {
		names = []string{wschannel.Name, longpoll.Name}
	}
	out := make([]core.Transport, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true
		switch name {
		case wschannel.Name:
			out = append(out, wschannel.New(wschannel.Config{
				HandshakeTimeout: cfg.HandshakeTimeout,
				ReadTimeout:      cfg.ReadTimeout,
			}))
		case longpoll.Name:
			out = append(out, longpoll.New(longpoll.Config{RequestTimeout: cfg.PollWait}, nil))
		default:
			return nil, errors.Errorf("unknown transport %q", name)
		}
	}
	return out, nil
}

func New(cfg config.ClientConfig) (*session.Session, error) {
	side, err := rest.NewClient(rest.Config{
		BaseURL:    cfg.BaseURL,
		SendMethod: cfg.SendMethod,
		Timeout:    cfg.RequestTimeout,
	}, nil)
	if err != nil {
		return nil, err
	}
	transports, err := Transports(cfg)
	if err != nil {
		return nil, err
	}
	return session.New(session.Options{
		Negotiator: side,
		Membership: side,
		Publisher:  side,
		Transports: transports,
		Reconnect: session.ReconnectPolicy{
			InitialDelay: cfg.Reconnect.InitialDelay,
			MaxDelay:     cfg.Reconnect.MaxDelay,
			Multiplier:   cfg.Reconnect.Multiplier,
			Jitter:       cfg.Reconnect.Jitter,
			MaxAttempts:  cfg.Reconnect.MaxAttempts,
		},
		EventName:    cfg.EventName,
		LeaveTimeout: cfg.LeaveTimeout,
	}), nil
}
