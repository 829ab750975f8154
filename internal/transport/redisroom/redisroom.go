// Package redisroom runs rooms over Redis pub/sub: one channel per room, presence via heartbeats.
package redisroom

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/park285/cheese-p2pchess/internal/transport"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Config struct {
	PresenceInterval time.Duration
	PresenceTimeout  time.Duration
	Logger           *zap.Logger
}

type Joiner struct {
	rdb    *redis.Client
	cfg    Config
	logger *zap.Logger
}

func New(rdb *redis.Client, cfg Config) *Joiner {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Joiner{rdb: rdb, cfg: cfg, logger: logger}
}

// Dial connects to REDIS_URL and verifies the server answers.
func Dial(ctx context.Context, redisURL string, cfg Config) (*Joiner, error) {
	if strings.TrimSpace(redisURL) == "" {
		return nil, fmt.Errorf("REDIS_URL required for redis transport")
	}
	opts, err := ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return New(rdb, cfg), nil
}

func (j *Joiner) Close() error {
	if j == nil || j.rdb == nil {
		return nil
	}
	return j.rdb.Close()
}

func (j *Joiner) JoinRoom(ctx context.Context, appID, roomID string, opts ...transport.JoinOption) (transport.Room, error) {
	if strings.TrimSpace(roomID) == "" {
		return nil, transport.ErrEmptyRoomID
	}
	o := transport.ResolveJoinOptions(opts...)
	topic := transport.Topic(appID, roomID)

	sub := j.rdb.Subscribe(ctx, topic)
	// wait for the subscription confirmation so the hello below is not lost on our side
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}

	publish := func(ctx context.Context, env transport.Envelope) error {
		raw, err := transport.MarshalEnvelope(env)
		if err != nil {
			return err
		}
		return j.rdb.Publish(ctx, topic, raw).Err()
	}
	mesh := transport.NewMesh(o.PeerID, publish, transport.MeshConfig{
		Interval: j.cfg.PresenceInterval,
		Timeout:  j.cfg.PresenceTimeout,
		Logger:   j.logger.With(zap.String("room", roomID)),
		OnClose:  sub.Close,
	})

	ch := sub.Channel()
	go func() {
		for msg := range ch {
			env, err := transport.UnmarshalEnvelope([]byte(msg.Payload))
			if err != nil {
				j.logger.Warn("redisroom_bad_frame", zap.String("room", roomID), zap.Error(err))
				continue
			}
			mesh.Deliver(env)
		}
	}()

	if err := mesh.Start(ctx); err != nil {
		_ = mesh.Leave()
		return nil, fmt.Errorf("announce in %s: %w", topic, err)
	}
	j.logger.Info("redisroom_joined", zap.String("room", roomID), zap.String("peer_id", o.PeerID))
	return mesh, nil
}

// ParseURL accepts redis:// and rediss:// URLs with an optional /db path.
func ParseURL(raw string) (*redis.Options, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "redis" && u.Scheme != "rediss" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	db := 0
	if p := strings.TrimPrefix(u.Path, "/"); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid redis db %q", p)
		}
		db = n
	}
	pass, _ := u.User.Password()
	return &redis.Options{Addr: u.Host, Password: pass, DB: db}, nil
}
