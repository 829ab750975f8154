// Package wsroom runs rooms through a WebSocket relay that fans every frame out to the
// other connections subscribed to the same topic.
package wsroom

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/park285/cheese-p2pchess/internal/transport"
	"go.uber.org/zap"
)

type Config struct {
	RelayURL         string
	MaxReconnect     int
	ReconnectDelay   time.Duration
	PingInterval     time.Duration
	PresenceInterval time.Duration
	PresenceTimeout  time.Duration
	Logger           *zap.Logger
	// OnStateChange observes relay connection state for every room joined.
	OnStateChange func(roomID string, s State)
}

type Joiner struct {
	cfg    Config
	logger *zap.Logger
}

func New(cfg Config) (*Joiner, error) {
	u, err := url.Parse(strings.TrimSpace(cfg.RelayURL))
	if err != nil {
		return nil, fmt.Errorf("parse relay url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("unsupported relay scheme: %s", u.Scheme)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Joiner{cfg: cfg, logger: logger}, nil
}

func (j *Joiner) topicURL(topic string) string {
	u, _ := url.Parse(strings.TrimSpace(j.cfg.RelayURL))
	q := u.Query()
	q.Set("topic", topic)
	u.RawQuery = q.Encode()
	return u.String()
}

func (j *Joiner) JoinRoom(ctx context.Context, appID, roomID string, opts ...transport.JoinOption) (transport.Room, error) {
	if strings.TrimSpace(roomID) == "" {
		return nil, transport.ErrEmptyRoomID
	}
	o := transport.ResolveJoinOptions(opts...)
	logger := j.logger.With(zap.String("room", roomID), zap.String("peer_id", o.PeerID))

	c := newConn(j.topicURL(transport.Topic(appID, roomID)), j.cfg, logger)
	if j.cfg.OnStateChange != nil {
		c.OnStateChange(func(s State) { j.cfg.OnStateChange(roomID, s) })
	}
	mesh := transport.NewMesh(o.PeerID, c.publish, transport.MeshConfig{
		Interval: j.cfg.PresenceInterval,
		Timeout:  j.cfg.PresenceTimeout,
		Logger:   logger,
		OnClose: func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return c.Close(ctx)
		},
	})
	c.onEnvelope = mesh.Deliver
	c.onReconnect = func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := mesh.Announce(ctx); err != nil {
			logger.Warn("wsroom_reannounce_failed", zap.Error(err))
		}
	}

	if err := c.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect relay: %w", err)
	}
	if err := mesh.Start(ctx); err != nil {
		_ = mesh.Leave()
		return nil, fmt.Errorf("announce: %w", err)
	}
	logger.Info("wsroom_joined")
	return mesh, nil
}
