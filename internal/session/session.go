// Package session is the per-client game state machine. Local actions, inbound protocol
// messages and connection events all mutate one State, one at a time, on a serial executor.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/park285/cheese-p2pchess/internal/channel"
	"github.com/park285/cheese-p2pchess/internal/clock"
	"github.com/park285/cheese-p2pchess/internal/msgcat"
	"github.com/park285/cheese-p2pchess/internal/position"
	"github.com/park285/cheese-p2pchess/internal/protocol"
	"github.com/park285/cheese-p2pchess/internal/resync"
	"github.com/park285/cheese-p2pchess/internal/serial"
	"github.com/park285/cheese-p2pchess/internal/telemetry"
	"github.com/park285/cheese-p2pchess/internal/transport"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var (
	ErrNotConnected    = errors.New("session: not connected")
	ErrColorUnassigned = errors.New("session: color not assigned")
	ErrNotYourTurn     = errors.New("session: not your turn")
	ErrGameOver        = errors.New("session: game is over")
	ErrIllegalMove     = errors.New("session: illegal move")
	ErrNoDrawOffer     = errors.New("session: no draw offer to accept")
	ErrRoleAssigned    = errors.New("session: already hosting or joined")
)

type Config struct {
	AppID             string
	ReconnectWait     time.Duration
	ResyncShowDelay   time.Duration
	ResyncSettleDelay time.Duration
	Scheduler         clock.Scheduler
	Logger            *zap.Logger
	TracerProvider    trace.TracerProvider
	Catalog           *msgcat.Catalog
	// OnChange receives every published snapshot. It runs on the session executor and must not call back into the Session.
	OnChange func(Snapshot)
}

type Session struct {
	cfg    Config
	logger *zap.Logger
	tracer trace.Tracer
	sched  clock.Scheduler
	cat    *msgcat.Catalog

	exec *serial.Executor
	ch   *channel.Channel
	rs   *resync.Coordinator

	st   State
	snap atomic.Pointer[Snapshot]
}

func New(joiner transport.Joiner, cfg Config) *Session {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Scheduler == nil {
		cfg.Scheduler = clock.Real()
	}
	if cfg.Catalog == nil {
		cfg.Catalog = msgcat.Default()
	}
	s := &Session{
		cfg:    cfg,
		logger: logger,
		tracer: telemetry.Tracer(cfg.TracerProvider),
		sched:  cfg.Scheduler,
		cat:    cfg.Catalog,
		exec:   serial.New(logger),
		st:     freshState(),
	}
	s.ch = channel.New(joiner, events{s}, channel.Config{
		AppID:         cfg.AppID,
		ReconnectWait: cfg.ReconnectWait,
		Scheduler:     cfg.Scheduler,
		Logger:        logger,
		Tracer:        s.tracer,
		Post:          s.exec.Post,
	})
	s.rs = resync.New(resync.Config{
		ShowDelay:   cfg.ResyncShowDelay,
		SettleDelay: cfg.ResyncSettleDelay,
		Scheduler:   cfg.Scheduler,
		Logger:      logger,
		Post:        s.exec.Post,
	})
	s.publish()
	return s
}

// CreateRoom hosts a new game and returns its id for out-of-band sharing.
func (s *Session) CreateRoom(ctx context.Context) (gameID string, err error) {
	s.exec.Do(func() {
		gameID, err = s.createRoom(ctx)
		s.publish()
	})
	return gameID, err
}

func (s *Session) createRoom(ctx context.Context) (string, error) {
	if s.st.Role != RoleNone {
		return "", s.reject(ErrRoleAssigned, nil)
	}
	ctx, span := s.tracer.Start(ctx, "session.create_room")
	defer span.End()

	id, err := s.ch.CreateRoom(ctx)
	if err != nil {
		s.roomFailed(span, err)
		return "", err
	}
	s.st.LastError = ""
	s.st.Role = RoleHost
	s.st.GameID = id
	s.st.SelfID = s.ch.SelfID()
	s.st.assignColor(protocol.White)
	s.st.Phase = PhaseSettingUp
	span.SetAttributes(attribute.String("game.id", id))
	s.logger.Info("session_room_created", zap.String("game_id", id), zap.String("self_id", s.st.SelfID))
	return id, nil
}

// JoinRoomByID joins a game hosted by someone else.
func (s *Session) JoinRoomByID(ctx context.Context, gameID string) (err error) {
	s.exec.Do(func() {
		err = s.joinRoom(ctx, gameID)
		s.publish()
	})
	return err
}

func (s *Session) joinRoom(ctx context.Context, gameID string) error {
	if s.st.Role != RoleNone {
		return s.reject(ErrRoleAssigned, nil)
	}
	ctx, span := s.tracer.Start(ctx, "session.join_room", trace.WithAttributes(attribute.String("game.id", gameID)))
	defer span.End()

	if err := s.ch.JoinRoomByID(ctx, gameID); err != nil {
		s.roomFailed(span, err)
		return err
	}
	s.st.LastError = ""
	s.st.Role = RoleJoiner
	s.st.GameID = s.ch.GameID()
	s.st.SelfID = s.ch.SelfID()
	s.st.Phase = PhaseSettingUp
	s.logger.Info("session_room_joined", zap.String("game_id", s.st.GameID), zap.String("self_id", s.st.SelfID))
	return nil
}

func (s *Session) roomFailed(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, "join")
	s.st.Phase = PhaseConnectionFailed
	if errors.Is(err, channel.ErrEmptyGameID) {
		s.fail(err, nil)
	} else {
		s.fail(err, map[string]string{"Reason": err.Error()})
	}
	s.logger.Warn("session_room_failed", zap.Error(err))
}

// SubmitMove plays mv locally and sends it to the opponent. The move stands locally even
// when sending fails; the send error is returned for display.
func (s *Session) SubmitMove(ctx context.Context, mv protocol.Move) (err error) {
	s.exec.Do(func() {
		err = s.submitMove(ctx, mv)
		s.publish()
	})
	return err
}

func (s *Session) submitMove(ctx context.Context, mv protocol.Move) error {
	if err := s.checkPlayable(); err != nil {
		return s.reject(err, nil)
	}
	// 턴 검증
	if s.st.Position.Turn() != s.st.LocalColor {
		return s.reject(ErrNotYourTurn, nil)
	}
	ctx, span := s.tracer.Start(ctx, "session.submit_move", trace.WithAttributes(attribute.String("move", mv.UCI())))
	defer span.End()

	next, err := position.Apply(s.st.Position, mv)
	if err != nil {
		span.SetStatus(codes.Error, "illegal")
		return s.reject(fmt.Errorf("%w: %v", ErrIllegalMove, err), map[string]string{"Move": mv.UCI()})
	}
	s.st.LastError = ""
	// 로컬 적용 후 전송. 전송 실패해도 수는 유지
	s.advance(next)
	s.logger.Debug("session_local_move", zap.String("move", mv.UCI()), zap.String("fen", next.FEN()))
	return s.send(ctx, protocol.NewMove(mv))
}

// Resign ends the game in the opponent's favour, locally first.
func (s *Session) Resign(ctx context.Context) (err error) {
	s.exec.Do(func() {
		err = s.resign(ctx)
		s.publish()
	})
	return err
}

func (s *Session) resign(ctx context.Context) error {
	switch {
	case !s.ch.InRoom():
		return s.reject(ErrNotConnected, nil)
	case s.st.LocalColor == "":
		return s.reject(ErrColorUnassigned, nil)
	case s.st.Outcome.Terminal():
		return s.reject(ErrGameOver, nil)
	}
	s.st.LastError = ""
	s.st.Outcome = Outcome{Kind: ResignationWin, Winner: s.st.OpponentColor}
	s.st.clearDrawOffers()
	s.logger.Info("session_resigned", zap.String("color", string(s.st.LocalColor)))
	return s.send(ctx, protocol.NewResign(s.st.LocalColor, s.sched.Now()))
}

// OfferDraw proposes a draw. If the opponent already offered one, it is accepted instead.
func (s *Session) OfferDraw(ctx context.Context) (err error) {
	s.exec.Do(func() {
		err = s.offerDraw(ctx)
		s.publish()
	})
	return err
}

func (s *Session) offerDraw(ctx context.Context) error {
	if err := s.checkPlayable(); err != nil {
		return s.reject(err, nil)
	}
	if s.st.DrawOfferedByOpponent {
		return s.acceptDraw(ctx)
	}
	s.st.LastError = ""
	if s.st.DrawOffered {
		return nil
	}
	s.st.DrawOffered = true
	return s.send(ctx, protocol.NewDrawOffer())
}

// AcceptDraw agrees to the opponent's pending draw offer.
func (s *Session) AcceptDraw(ctx context.Context) (err error) {
	s.exec.Do(func() {
		err = s.acceptDraw(ctx)
		s.publish()
	})
	return err
}

func (s *Session) acceptDraw(ctx context.Context) error {
	if err := s.checkPlayable(); err != nil {
		return s.reject(err, nil)
	}
	if !s.st.DrawOfferedByOpponent {
		return s.reject(ErrNoDrawOffer, nil)
	}
	s.st.LastError = ""
	s.st.Outcome = Outcome{Kind: AgreedDraw}
	s.st.clearDrawOffers()
	s.logger.Info("session_draw_agreed")
	return s.send(ctx, protocol.NewDrawAccept())
}

// RequestSync asks for a full resync. On the host it pushes its own state instead.
func (s *Session) RequestSync(ctx context.Context) (err error) {
	s.exec.Do(func() {
		err = s.requestSync(ctx)
		s.publish()
	})
	return err
}

func (s *Session) requestSync(ctx context.Context) error {
	if !s.ch.InRoom() {
		return s.reject(ErrNotConnected, nil)
	}
	s.st.LastError = ""
	if s.st.Role == RoleHost {
		return s.pushSync(ctx)
	}
	return s.beginResync(ctx, "requested")
}

// Reconnect re-enters the current room under the same identity.
func (s *Session) Reconnect(ctx context.Context) (err error) {
	s.exec.Do(func() {
		err = s.reconnect(ctx)
		s.publish()
	})
	return err
}

func (s *Session) reconnect(ctx context.Context) error {
	if !s.ch.InRoom() {
		return s.reject(ErrNotConnected, nil)
	}
	ctx, span := s.tracer.Start(ctx, "session.reconnect")
	defer span.End()

	s.rs.Cancel()
	if err := s.ch.Rejoin(ctx); err != nil {
		s.roomFailed(span, err)
		return err
	}
	s.st.LastError = ""
	if s.ch.LastKnownOpponent() == "" {
		// nobody to wait for yet
		s.st.Phase = PhaseSettingUp
	} else {
		s.st.Phase = PhaseConnectionLost
	}
	s.logger.Info("session_rejoined", zap.String("game_id", s.st.GameID), zap.Bool("reconnect_pending", s.ch.ReconnectPending()))
	return nil
}

// Leave tears down the room and resets the session to its initial state.
func (s *Session) Leave() (err error) {
	s.exec.Do(func() {
		s.rs.Cancel()
		err = s.ch.Leave()
		if s.st.GameID != "" {
			s.logger.Info("session_left", zap.String("game_id", s.st.GameID))
		}
		s.st = freshState()
		s.publish()
	})
	return err
}

func (s *Session) checkPlayable() error {
	switch {
	case !s.st.Phase.playable() || !s.ch.InRoom():
		return ErrNotConnected
	case s.st.LocalColor == "":
		return ErrColorUnassigned
	case s.st.Outcome.Terminal():
		return ErrGameOver
	}
	return nil
}

// advance replaces the position after an accepted move.
func (s *Session) advance(next position.Position) {
	s.st.Position = next
	st := position.StatusOf(next)
	s.st.IsCheck = st.IsCheck
	if !s.st.Outcome.Terminal() {
		s.st.Outcome = outcomeOf(st)
	}
	s.st.clearDrawOffers()
	if s.st.Phase == PhaseConnected {
		s.st.Phase = PhaseInProgress
	}
}

func (s *Session) send(ctx context.Context, msg protocol.Message) error {
	if err := s.ch.Send(ctx, msg); err != nil {
		s.logger.Warn("session_send_failed", zap.String("type", string(msg.Type)), zap.Error(err))
		s.fail(err, nil)
		return err
	}
	return nil
}

// reject records a refused local action.
func (s *Session) reject(err error, data map[string]string) error {
	s.logger.Debug("session_action_rejected", zap.Error(err), zap.String("phase", s.st.Phase.String()))
	s.fail(err, data)
	return err
}

func (s *Session) fail(err error, data map[string]string) {
	s.st.LastError = s.cat.RenderOr(errorKey(err), data, err.Error())
}

func errorKey(err error) string {
	switch {
	case errors.Is(err, ErrNotConnected), errors.Is(err, channel.ErrNoRoom):
		return "error.not_connected"
	case errors.Is(err, ErrColorUnassigned):
		return "error.color_unassigned"
	case errors.Is(err, ErrNotYourTurn):
		return "error.not_your_turn"
	case errors.Is(err, ErrGameOver):
		return "error.game_over"
	case errors.Is(err, ErrIllegalMove):
		return "error.illegal_move"
	case errors.Is(err, ErrNoDrawOffer):
		return "error.no_draw_offer"
	case errors.Is(err, ErrRoleAssigned):
		return "error.role_assigned"
	case errors.Is(err, channel.ErrNoOpponent), errors.Is(err, transport.ErrNoPeers):
		return "error.no_opponent"
	case errors.Is(err, channel.ErrEmptyGameID), errors.Is(err, transport.ErrEmptyRoomID):
		return "error.empty_game_id"
	}
	return "error.room_failed"
}

// Snapshot returns the latest published view. Safe from any goroutine.
func (s *Session) Snapshot() Snapshot {
	return *s.snap.Load()
}
