// Package channel owns the room membership for one game: it tracks the single opponent,
// classifies joins as first-time or rejoin, and runs the reconnect window after a leave.
//
// A Channel is not safe for concurrent use. Its methods and every listener callback run on
// the owner's serial executor, which is handed in as Config.Post.
package channel

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/park285/cheese-p2pchess/internal/clock"
	"github.com/park285/cheese-p2pchess/internal/protocol"
	"github.com/park285/cheese-p2pchess/internal/telemetry"
	"github.com/park285/cheese-p2pchess/internal/transport"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ActionName is the only action protocol traffic uses.
const ActionName = "gameData"

var (
	ErrNoRoom        = errors.New("channel: not in a room")
	ErrAlreadyInRoom = errors.New("channel: already in a room")
	ErrEmptyGameID   = errors.New("channel: empty game id")
	ErrNoOpponent    = errors.New("channel: no opponent connected")
)

// Listener receives connection events. Calls arrive on the owner's executor.
type Listener interface {
	// PeerJoined reports a new transport connection; rejoin is true when the peer id matches the last known opponent.
	PeerJoined(peerID string, rejoin bool)
	// PeerLeft reports that the tracked opponent dropped; the reconnect window is running.
	PeerLeft(peerID string)
	// OpponentGone reports that the reconnect window elapsed without a rejoin.
	OpponentGone(peerID string)
	MessageReceived(ctx context.Context, msg protocol.Message, from string)
	// MessageDropped reports a frame that failed to decode.
	MessageDropped(from string, err error)
}

type Config struct {
	AppID         string
	ReconnectWait time.Duration
	Scheduler     clock.Scheduler
	Logger        *zap.Logger
	Tracer        trace.Tracer
	// Post runs f on the owner's executor. Nil runs f inline.
	Post          func(f func())
}

type Channel struct {
	joiner   transport.Joiner
	listener Listener
	cfg      Config
	logger   *zap.Logger
	tracer   trace.Tracer

	room   transport.Room
	action transport.Action
	gameID string
	selfID string
	isHost bool

	currentOpponent   string
	lastKnownOpponent string

	roomGen        uint64
	reconnectGen   uint64
	reconnectTimer clock.Timer
}

func New(joiner transport.Joiner, listener Listener, cfg Config) *Channel {
	if cfg.Scheduler == nil {
		cfg.Scheduler = clock.Real()
	}
	if cfg.ReconnectWait <= 0 {
		cfg.ReconnectWait = 5 * time.Second
	}
	if cfg.Post == nil {
		cfg.Post = func(f func()) { f() }
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = telemetry.Tracer(nil)
	}
	return &Channel{joiner: joiner, listener: listener, cfg: cfg, logger: logger, tracer: tracer}
}

func (c *Channel) InRoom() bool              { return c.room != nil }
func (c *Channel) GameID() string            { return c.gameID }
func (c *Channel) SelfID() string            { return c.selfID }
func (c *Channel) IsHost() bool              { return c.isHost }
func (c *Channel) CurrentOpponent() string   { return c.currentOpponent }
func (c *Channel) LastKnownOpponent() string { return c.lastKnownOpponent }
func (c *Channel) ReconnectPending() bool    { return c.reconnectTimer != nil }

// CreateRoom generates a fresh game id and joins it as host.
func (c *Channel) CreateRoom(ctx context.Context) (string, error) {
	if c.room != nil {
		return "", ErrAlreadyInRoom
	}
	id, err := NewRoomID()
	if err != nil {
		return "", fmt.Errorf("generate room id: %w", err)
	}
	if err := c.join(ctx, id, true, ""); err != nil {
		return "", err
	}
	return id, nil
}

// JoinRoomByID enters an existing room as joiner.
func (c *Channel) JoinRoomByID(ctx context.Context, gameID string) error {
	if c.room != nil {
		return ErrAlreadyInRoom
	}
	gameID = NormalizeRoomID(gameID)
	if gameID == "" {
		return ErrEmptyGameID
	}
	return c.join(ctx, gameID, false, "")
}

// Rejoin drops the transport membership and enters the same room again under the same
// peer id. Opponent tracking survives, so the other side sees a rejoin.
func (c *Channel) Rejoin(ctx context.Context) error {
	if c.room == nil {
		return ErrNoRoom
	}
	old := c.room
	c.roomGen++
	c.room, c.action = nil, nil
	c.currentOpponent = ""
	if err := old.Leave(); err != nil {
		c.logger.Warn("channel_rejoin_leave_failed", zap.String("game_id", c.gameID), zap.Error(err))
	}
	if err := c.join(ctx, c.gameID, c.isHost, c.selfID); err != nil {
		return err
	}
	// 상대가 이미 나간 방에 재입장해도 대기는 한 번, 시간 제한 있음
	if opp := c.lastKnownOpponent; opp != "" && c.currentOpponent == "" && !slices.Contains(c.room.Peers(), opp) {
		c.logger.Info("channel_rejoin_opponent_absent", zap.String("game_id", c.gameID), zap.String("peer_id", opp))
		c.startReconnectWindow(opp)
	}
	return nil
}

func (c *Channel) join(ctx context.Context, gameID string, host bool, peerID string) error {
	var opts []transport.JoinOption
	if peerID != "" {
		opts = append(opts, transport.WithPeerID(peerID))
	}
	room, err := c.joiner.JoinRoom(ctx, c.cfg.AppID, gameID, opts...)
	if err != nil {
		c.logger.Warn("channel_join_failed", zap.String("game_id", gameID), zap.Bool("host", host), zap.Error(err))
		return fmt.Errorf("join room %s: %w", gameID, err)
	}
	c.roomGen++
	gen := c.roomGen
	c.room = room
	c.action = room.MakeAction(ActionName)
	c.gameID = gameID
	c.selfID = room.SelfID()
	c.isHost = host
	c.logger.Info("channel_joined", zap.String("game_id", gameID), zap.String("self_id", c.selfID), zap.Bool("host", host))

	room.OnPeerLeave(func(peer string) {
		c.cfg.Post(func() {
			if gen == c.roomGen {
				c.handlePeerLeave(peer)
			}
		})
	})
	room.OnPeerJoin(func(peer string) {
		c.cfg.Post(func() {
			if gen == c.roomGen {
				c.handlePeerJoin(peer)
			}
		})
	})
	// Registered last: held frames from a peer that answered our join must follow its join event.
	c.action.OnReceive(func(data []byte, from string) {
		raw := append([]byte(nil), data...)
		c.cfg.Post(func() {
			if gen == c.roomGen {
				c.handleData(raw, from)
			}
		})
	})
	return nil
}

func (c *Channel) handlePeerJoin(peer string) {
	c.cancelReconnect()
	rejoin := c.lastKnownOpponent != "" && peer == c.lastKnownOpponent
	if c.currentOpponent != "" && c.currentOpponent != peer {
		c.logger.Info("channel_opponent_replaced", zap.String("game_id", c.gameID), zap.String("previous", c.currentOpponent), zap.String("peer_id", peer))
	}
	c.currentOpponent = peer
	c.lastKnownOpponent = peer
	c.logger.Info("channel_peer_join", zap.String("game_id", c.gameID), zap.String("peer_id", peer), zap.Bool("rejoin", rejoin))
	c.listener.PeerJoined(peer, rejoin)
}

func (c *Channel) handlePeerLeave(peer string) {
	if peer != c.currentOpponent && peer != c.lastKnownOpponent {
		c.logger.Debug("channel_stranger_left", zap.String("game_id", c.gameID), zap.String("peer_id", peer))
		return
	}
	// 다른 상대가 이미 연결 중이면 대기하지 않음
	if c.currentOpponent != "" && peer != c.currentOpponent {
		c.logger.Debug("channel_former_opponent_left", zap.String("game_id", c.gameID), zap.String("peer_id", peer), zap.String("current", c.currentOpponent))
		return
	}
	c.currentOpponent = ""
	c.startReconnectWindow(peer)
	c.logger.Info("channel_peer_leave", zap.String("game_id", c.gameID), zap.String("peer_id", peer), zap.Duration("wait", c.cfg.ReconnectWait))
	c.listener.PeerLeft(peer)
}

// startReconnectWindow replaces any pending wait with a fresh one for peer.
func (c *Channel) startReconnectWindow(peer string) {
	c.cancelReconnect()
	gen := c.reconnectGen
	c.reconnectTimer = c.cfg.Scheduler.AfterFunc(c.cfg.ReconnectWait, func() {
		c.cfg.Post(func() {
			if gen != c.reconnectGen || c.currentOpponent != "" {
				return
			}
			c.reconnectTimer = nil
			c.logger.Info("channel_opponent_gone", zap.String("game_id", c.gameID), zap.String("peer_id", peer))
			c.listener.OpponentGone(peer)
		})
	})
}

func (c *Channel) cancelReconnect() {
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	c.reconnectGen++
}

func (c *Channel) handleData(raw []byte, from string) {
	ctx, span := c.tracer.Start(context.Background(), "channel.receive",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(attribute.String("peer.id", from), attribute.String("game.id", c.gameID)))
	defer span.End()

	msg, err := protocol.Decode(raw)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "decode")
		c.logger.Warn("channel_message_dropped", zap.String("game_id", c.gameID), zap.String("peer_id", from), zap.Int("bytes", len(raw)), zap.Error(err))
		c.listener.MessageDropped(from, err)
		return
	}
	span.SetAttributes(attribute.String("message.type", string(msg.Type)))
	if from != c.currentOpponent {
		c.logger.Debug("channel_opponent_from_data", zap.String("game_id", c.gameID), zap.String("peer_id", from), zap.String("previous", c.currentOpponent))
		c.currentOpponent = from
		if c.lastKnownOpponent == "" {
			c.lastKnownOpponent = from
		}
	}
	c.listener.MessageReceived(ctx, msg, from)
}

// Send transmits msg to the tracked opponent, or to the first peer present when none is tracked yet.
func (c *Channel) Send(ctx context.Context, msg protocol.Message) error {
	return c.traceSend(ctx, msg, "")
}

// SendTo transmits msg to peer alone, whoever the tracked opponent is.
func (c *Channel) SendTo(ctx context.Context, msg protocol.Message, peer string) error {
	if peer == "" {
		return ErrNoOpponent
	}
	return c.traceSend(ctx, msg, peer)
}

func (c *Channel) traceSend(ctx context.Context, msg protocol.Message, to string) error {
	ctx, span := c.tracer.Start(ctx, "channel.send",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(attribute.String("message.type", string(msg.Type)), attribute.String("game.id", c.gameID)))
	defer span.End()

	err := c.send(ctx, msg, to)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "send")
	}
	return err
}

func (c *Channel) send(ctx context.Context, msg protocol.Message, target string) error {
	if c.room == nil {
		return ErrNoRoom
	}
	raw, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	if target == "" {
		target = c.currentOpponent
	}
	if target == "" {
		peers := c.room.Peers()
		if len(peers) == 0 {
			return ErrNoOpponent
		}
		target = peers[0]
		c.logger.Debug("channel_send_fallback", zap.String("game_id", c.gameID), zap.String("peer_id", target))
	}
	if err := c.action.Send(ctx, raw, target); err != nil {
		c.logger.Warn("channel_send_failed", zap.String("game_id", c.gameID), zap.String("type", string(msg.Type)), zap.String("peer_id", target), zap.Error(err))
		return fmt.Errorf("send %s: %w", msg.Type, err)
	}
	c.logger.Debug("channel_sent", zap.String("game_id", c.gameID), zap.String("type", string(msg.Type)), zap.String("peer_id", target))
	return nil
}

// Leave tears down the membership and forgets everything about the room.
func (c *Channel) Leave() error {
	c.cancelReconnect()
	room := c.room
	c.roomGen++
	c.room, c.action = nil, nil
	c.gameID, c.selfID = "", ""
	c.isHost = false
	c.currentOpponent, c.lastKnownOpponent = "", ""
	if room == nil {
		return nil
	}
	c.logger.Info("channel_left")
	return room.Leave()
}
