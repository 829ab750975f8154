// Package builder assembles a ready-to-use game session from AppConfig.
package builder

import (
	"context"
	"errors"
	"fmt"

	"github.com/park285/cheese-p2pchess/internal/config"
	"github.com/park285/cheese-p2pchess/internal/msgcat"
	"github.com/park285/cheese-p2pchess/internal/session"
	"github.com/park285/cheese-p2pchess/internal/transport"
	"github.com/park285/cheese-p2pchess/internal/transport/redisroom"
	"github.com/park285/cheese-p2pchess/internal/transport/wsroom"
	"go.uber.org/zap"
)

type Deps struct {
	Session *session.Session
	Catalog *msgcat.Catalog
	Joiner  transport.Joiner

	closeJoiner func() error
}

// Options carries the pieces the caller owns rather than the environment.
type Options struct {
	Logger   *zap.Logger
	OnChange func(session.Snapshot)
}

func New(ctx context.Context, cfg *config.AppConfig, opts Options) (*Deps, error) {
	if cfg == nil {
		return nil, errors.New("nil config")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	cat, err := msgcat.New(cfg.MessagesDir)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}

	joiner, closeJoiner, err := NewJoiner(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	s := session.New(joiner, session.Config{
		AppID:             cfg.AppID,
		ReconnectWait:     cfg.ReconnectWait,
		ResyncShowDelay:   cfg.ResyncShowDelay,
		ResyncSettleDelay: cfg.ResyncSettleDelay,
		Logger:            logger.Named("session"),
		Catalog:           cat,
		OnChange:          opts.OnChange,
	})
	return &Deps{Session: s, Catalog: cat, Joiner: joiner, closeJoiner: closeJoiner}, nil
}

// NewJoiner builds the transport named by cfg.Transport. The returned func releases it.
func NewJoiner(ctx context.Context, cfg *config.AppConfig, logger *zap.Logger) (transport.Joiner, func() error, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Transport {
	case config.TransportRedis:
		j, err := redisroom.Dial(ctx, cfg.RedisURL, redisroom.Config{
			PresenceInterval: cfg.PresenceInterval,
			PresenceTimeout:  cfg.PresenceTimeout,
			Logger:           logger.Named("redisroom"),
		})
		if err != nil {
			return nil, nil, fmt.Errorf("init redis transport: %w", err)
		}
		return j, j.Close, nil
	case config.TransportWS:
		wsLogger := logger.Named("wsroom")
		j, err := wsroom.New(wsroom.Config{
			RelayURL:         cfg.RelayURL,
			MaxReconnect:     cfg.WSMaxReconnect,
			ReconnectDelay:   cfg.WSReconnectDelay,
			PresenceInterval: cfg.PresenceInterval,
			PresenceTimeout:  cfg.PresenceTimeout,
			Logger:           wsLogger,
			OnStateChange: func(roomID string, s wsroom.State) {
				wsLogger.Info("relay_state", zap.String("room_id", roomID), zap.String("state", string(s)))
			},
		})
		if err != nil {
			return nil, nil, fmt.Errorf("init ws transport: %w", err)
		}
		return j, func() error { return nil }, nil
	}
	return nil, nil, fmt.Errorf("unknown transport %q", cfg.Transport)
}

// Close leaves the room and releases the transport.
func (d *Deps) Close() error {
	if d == nil {
		return nil
	}
	var errs []error
	if d.Session != nil {
		errs = append(errs, d.Session.Leave())
	}
	if d.closeJoiner != nil {
		errs = append(errs, d.closeJoiner())
	}
	return errors.Join(errs...)
}
