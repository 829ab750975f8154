package session

import (
	"context"
	"errors"

	"github.com/park285/cheese-p2pchess/internal/position"
	"github.com/park285/cheese-p2pchess/internal/protocol"
	"github.com/park285/cheese-p2pchess/internal/resync"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// events adapts the session to channel.Listener. Every call arrives on the executor.
type events struct{ s *Session }

func (e events) PeerJoined(peer string, rejoin bool) {
	e.s.peerJoined(context.Background(), peer, rejoin)
	e.s.publish()
}

func (e events) PeerLeft(peer string) {
	s := e.s
	switch s.st.Phase {
	case PhaseAwaitingConnection, PhaseConnectionFailed:
		return
	}
	s.rs.Cancel()
	s.st.Phase = PhaseConnectionLost
	s.logger.Info("session_opponent_left", zap.String("peer_id", peer))
	s.publish()
}

func (e events) OpponentGone(peer string) {
	s := e.s
	if s.st.Phase != PhaseConnectionLost {
		return
	}
	s.st.Phase = PhaseDisconnected
	s.logger.Info("session_opponent_gone", zap.String("peer_id", peer))
	s.publish()
}

func (e events) MessageDropped(from string, err error) {
	code := protocol.CodeMalformedMessage
	if errors.Is(err, protocol.ErrUnknownType) {
		code = protocol.CodeUnknownType
	}
	if sendErr := e.s.ch.SendTo(context.Background(), protocol.NewError(err.Error(), code), from); sendErr != nil {
		e.s.logger.Debug("session_error_reply_failed", zap.String("peer_id", from), zap.Error(sendErr))
	}
}

func (e events) MessageReceived(ctx context.Context, msg protocol.Message, from string) {
	s := e.s
	ctx, span := s.tracer.Start(ctx, "session.dispatch", trace.WithAttributes(
		attribute.String("message.type", string(msg.Type)),
		attribute.String("phase", s.st.Phase.String()),
	))
	defer span.End()

	switch msg.Type {
	case protocol.TypeConnectionConfirmed:
		s.onConnectionConfirmed(msg.Payload.(protocol.ConnectionConfirmed))
	case protocol.TypeInitialGameSetup:
		s.onInitialSetup(ctx, msg.Payload.(protocol.InitialGameSetup))
	case protocol.TypeMove:
		s.onMove(ctx, msg.Payload.(protocol.MovePayload).Move)
	case protocol.TypeGameStateUpdate:
		s.onStateUpdate(ctx, msg.Payload.(protocol.GameStateUpdate))
	case protocol.TypeRequestGameState:
		s.onRequestState(ctx, from)
	case protocol.TypeSyncGameState:
		s.onSync(msg.Payload.(protocol.SyncGameState))
	case protocol.TypeResign:
		s.onResign(msg.Payload.(protocol.Resign))
	case protocol.TypeDrawOffer:
		s.onDrawOffer()
	case protocol.TypeDrawAccept:
		s.onDrawAccept()
	case protocol.TypeError:
		p := msg.Payload.(protocol.ErrorPayload)
		code := ""
		if p.Code != nil {
			code = *p.Code
		}
		s.logger.Warn("session_remote_error", zap.String("peer_id", from), zap.String("message", p.Message), zap.String("code", code))
		s.st.LastError = s.cat.RenderOr("error.remote", map[string]string{"Message": p.Message}, p.Message)
	}
	s.publish()
}

func (s *Session) peerJoined(ctx context.Context, peer string, rejoin bool) {
	s.st.OpponentID = peer
	switch s.st.Role {
	case RoleHost:
		s.hostPeerJoined(ctx, peer, rejoin)
	case RoleJoiner:
		// The host pushes state after a reconnect; the joiner only waits for it.
		if rejoin || s.st.LocalColor != "" {
			s.rs.Cancel()
			s.st.Phase = PhaseOpponentReconnected
			return
		}
		s.st.Phase = PhaseConnected
	}
}

func (s *Session) hostPeerJoined(ctx context.Context, peer string, rejoin bool) {
	start := s.st.Position.StartFEN()
	startTurn := protocol.White
	if startPos, err := position.FromFEN(start); err == nil {
		startTurn = startPos.Turn()
	}
	confirm := protocol.NewConnectionConfirmed(s.st.GameID, protocol.Black, s.st.SelfID, &start, &startTurn)

	switch {
	case rejoin:
		s.st.Phase = PhaseOpponentReconnected
		s.logger.Info("session_opponent_rejoined", zap.String("peer_id", peer), zap.Int("moves", s.st.Position.Len()))
		if s.send(ctx, confirm) != nil || s.pushSync(ctx) != nil {
			return
		}
		s.settle(s.rs.Begin(), PhaseOpponentReconnected)
	case s.st.Position.Len() > 0 || s.st.Outcome.Terminal():
		s.logger.Info("session_new_opponent_midgame", zap.String("peer_id", peer), zap.Int("moves", s.st.Position.Len()))
		if s.send(ctx, confirm) != nil || s.pushSync(ctx) != nil {
			return
		}
		s.st.Phase = PhaseInProgress
	default:
		s.st.Phase = PhaseConnected
		if s.send(ctx, confirm) != nil {
			return
		}
		if s.send(ctx, protocol.NewInitialGameSetup(start, s.st.SelfID, peer)) != nil {
			return
		}
		s.st.Phase = PhaseInProgress
		s.logger.Info("session_game_setup_sent", zap.String("white", s.st.SelfID), zap.String("black", peer))
	}
}

func (s *Session) onConnectionConfirmed(p protocol.ConnectionConfirmed) {
	if s.st.Role != RoleJoiner {
		s.logger.Warn("session_unexpected_message", zap.String("type", string(protocol.TypeConnectionConfirmed)), zap.String("role", s.st.Role.String()))
		return
	}
	if p.GameID != s.st.GameID {
		s.logger.Warn("session_game_id_mismatch", zap.String("game_id", s.st.GameID), zap.String("confirmed", p.GameID))
		return
	}
	if !s.st.assignColor(p.AssignedColor) {
		s.logger.Warn("session_color_conflict", zap.String("held", string(s.st.LocalColor)), zap.String("offered", string(p.AssignedColor)))
	}
	s.st.OpponentID = p.OpponentPeerID
	if p.StartingFEN != nil && s.st.Position.Len() == 0 && !s.st.Outcome.Terminal() {
		if pos, err := position.FromFEN(*p.StartingFEN); err == nil {
			s.st.Position = pos
		} else {
			s.logger.Warn("session_bad_starting_fen", zap.String("fen", *p.StartingFEN), zap.Error(err))
		}
	}
	switch s.st.Phase {
	case PhaseSettingUp, PhaseConnectionLost, PhaseDisconnected:
		s.st.Phase = PhaseConnected
	}
}

func (s *Session) onInitialSetup(ctx context.Context, p protocol.InitialGameSetup) {
	if s.st.Role != RoleJoiner {
		s.logger.Warn("session_unexpected_message", zap.String("type", string(protocol.TypeInitialGameSetup)), zap.String("role", s.st.Role.String()))
		return
	}
	if s.st.Position.Len() > 0 {
		s.logger.Warn("session_setup_ignored", zap.Int("moves", s.st.Position.Len()))
		return
	}
	var mine protocol.Color
	switch s.st.SelfID {
	case p.PlayerWhiteID:
		mine = protocol.White
	case p.PlayerBlackID:
		mine = protocol.Black
	default:
		s.logger.Warn("session_setup_not_for_us", zap.String("self_id", s.st.SelfID), zap.String("white", p.PlayerWhiteID), zap.String("black", p.PlayerBlackID))
		return
	}
	pos, err := position.FromFEN(p.StartingFEN)
	if err != nil {
		s.logger.Warn("session_bad_starting_fen", zap.String("fen", p.StartingFEN), zap.Error(err))
		return
	}
	if !s.st.assignColor(mine) {
		s.logger.Warn("session_color_conflict", zap.String("held", string(s.st.LocalColor)), zap.String("offered", string(mine)))
	}
	if mine == protocol.White {
		s.st.OpponentID = p.PlayerBlackID
	} else {
		s.st.OpponentID = p.PlayerWhiteID
	}
	s.st.Position = pos
	s.st.IsCheck = position.StatusOf(pos).IsCheck
	s.st.Phase = PhaseInProgress
	s.logger.Info("session_game_setup_received", zap.String("color", string(s.st.LocalColor)), zap.String("opponent_id", s.st.OpponentID))

	ack := protocol.NewGameStateUpdate(pos.FEN(), pos.Turn(), wireStatus(s.st.Outcome, s.st.IsCheck, pos.Turn()), nil)
	_ = s.send(ctx, ack)
}

func (s *Session) onMove(ctx context.Context, mv protocol.Move) {
	switch {
	case s.st.LocalColor == "":
		s.logger.Warn("session_move_before_setup", zap.String("move", mv.UCI()))
		return
	case s.st.Outcome.Terminal():
		s.logger.Debug("session_move_after_outcome", zap.String("move", mv.UCI()), zap.String("outcome", s.st.Outcome.String()))
		return
	case s.st.Position.Turn() == s.st.LocalColor:
		s.logger.Debug("session_move_out_of_turn", zap.String("move", mv.UCI()))
		return
	}
	// 재구성 + 적용
	next, err := position.Apply(s.st.Position, mv)
	if err != nil {
		s.diverged(ctx, "rejected remote move", zap.String("move", mv.UCI()), zap.Error(err))
		return
	}
	s.advance(next)
	s.logger.Debug("session_remote_move", zap.String("move", mv.UCI()), zap.String("fen", next.FEN()))
}

func (s *Session) onStateUpdate(ctx context.Context, p protocol.GameStateUpdate) {
	own := s.st.Position
	if position.SameBoard(own.FEN(), p.FEN) {
		return
	}
	if p.LastMove != nil && s.st.LocalColor != "" && own.Turn() != s.st.LocalColor && !s.st.Outcome.Terminal() {
		if next, err := position.Apply(own, *p.LastMove); err == nil && position.SameBoard(next.FEN(), p.FEN) {
			s.advance(next)
			return
		}
	}
	// 이미 지나간 국면이면 늦게 도착한 업데이트
	if position.Visited(own, p.FEN) {
		s.logger.Debug("session_stale_state_update", zap.String("fen", p.FEN))
		return
	}
	s.diverged(ctx, "state update mismatch", zap.String("fen", p.FEN), zap.String("own_fen", own.FEN()))
}

func (s *Session) onRequestState(ctx context.Context, from string) {
	if s.st.Role != RoleHost {
		s.logger.Warn("session_request_to_non_host", zap.String("peer_id", from))
		if err := s.ch.SendTo(ctx, protocol.NewError("only the host answers state requests", protocol.CodeNotHost), from); err != nil {
			s.logger.Debug("session_error_reply_failed", zap.String("peer_id", from), zap.Error(err))
		}
		return
	}
	// A new request supersedes the delays of any earlier cycle.
	attempt := s.rs.Begin()
	if s.pushSync(ctx) != nil {
		return
	}
	switch s.st.Phase {
	case PhaseOpponentReconnected, PhaseResyncSucceeded:
		s.settle(attempt, s.st.Phase)
	}
}

func (s *Session) onSync(p protocol.SyncGameState) {
	pos, err := resync.Validate(p, s.st.Role == RoleHost, s.st.Position.StartFEN())
	if errors.Is(err, resync.ErrNotHostOrigin) {
		s.logger.Warn("session_sync_ignored", zap.String("role", s.st.Role.String()), zap.Bool("host_initiated", p.IsHostInitiated))
		return
	}
	attempt := s.rs.Begin()
	if err != nil {
		s.st.Phase = PhaseResyncFailed
		s.logger.Warn("session_resync_failed", zap.Uint64("attempt", attempt), zap.Error(err))
		return
	}

	switch s.st.SelfID {
	case p.PlayerWhiteID:
		s.claimColor(protocol.White, p.PlayerBlackID)
	case p.PlayerBlackID:
		s.claimColor(protocol.Black, p.PlayerWhiteID)
	}

	s.st.Position = pos
	st := position.StatusOf(pos)
	s.st.IsCheck = st.IsCheck
	if s.st.Outcome.Terminal() {
		s.logger.Info("session_outcome_kept", zap.String("outcome", s.st.Outcome.String()), zap.String("remote_status", string(p.GameStatus)))
	} else {
		o := outcomeOf(st)
		if !o.Terminal() {
			if adopted, ok := adoptableOutcome(p.GameStatus); ok {
				o = adopted
			}
		}
		s.st.Outcome = o
	}
	s.st.clearDrawOffers()
	s.st.Phase = PhaseResynchronizing
	s.logger.Info("session_resync_applied", zap.Uint64("attempt", attempt), zap.Int("moves", pos.Len()), zap.String("fen", pos.FEN()))
	s.settle(attempt, PhaseResynchronizing)
}

// claimColor fills in color and opponent from a sync, only where they are still unset.
func (s *Session) claimColor(c protocol.Color, opponent string) {
	if !s.st.assignColor(c) {
		s.logger.Warn("session_color_conflict", zap.String("held", string(s.st.LocalColor)), zap.String("offered", string(c)))
	}
	if s.st.OpponentID == "" {
		s.st.OpponentID = opponent
	}
}

func (s *Session) onResign(p protocol.Resign) {
	if s.st.Outcome.Terminal() {
		s.logger.Debug("session_resign_after_outcome", zap.String("outcome", s.st.Outcome.String()))
		return
	}
	if s.st.LocalColor != "" && p.ResigningColor == s.st.LocalColor {
		s.logger.Warn("session_resign_wrong_color", zap.String("color", string(p.ResigningColor)))
		return
	}
	s.st.Outcome = Outcome{Kind: ResignationWin, Winner: p.ResigningColor.Opponent()}
	s.st.clearDrawOffers()
	s.logger.Info("session_opponent_resigned", zap.String("color", string(p.ResigningColor)), zap.String("at", p.Timestamp))
}

func (s *Session) onDrawOffer() {
	if s.st.Outcome.Terminal() {
		return
	}
	s.st.DrawOfferedByOpponent = true
	s.logger.Info("session_draw_offered")
}

func (s *Session) onDrawAccept() {
	if s.st.Outcome.Terminal() {
		return
	}
	if !s.st.DrawOffered {
		s.logger.Warn("session_unsolicited_draw_accept")
		return
	}
	s.st.Outcome = Outcome{Kind: AgreedDraw}
	s.st.clearDrawOffers()
	s.logger.Info("session_draw_agreed")
}

// diverged repairs a mismatch with the opponent: the host pushes its state, a joiner asks for it.
func (s *Session) diverged(ctx context.Context, reason string, fields ...zap.Field) {
	if s.st.Role == RoleHost {
		s.logger.Warn("session_remote_anomaly", append(fields, zap.String("reason", reason))...)
		_ = s.pushSync(ctx)
		return
	}
	s.logger.Warn("session_divergence", append(fields, zap.String("reason", reason))...)
	_ = s.beginResync(ctx, reason)
}

func (s *Session) beginResync(ctx context.Context, reason string) error {
	attempt := s.rs.Begin()
	s.st.Phase = PhaseResynchronizing
	s.logger.Info("session_resync_requested", zap.Uint64("attempt", attempt), zap.String("reason", reason))
	return s.send(ctx, protocol.NewRequestGameState())
}

func (s *Session) pushSync(ctx context.Context) error {
	if s.st.OpponentID == "" {
		return s.reject(ErrNotConnected, nil)
	}
	pos := s.st.Position
	payload := resync.BuildSync(pos, wireStatus(s.st.Outcome, s.st.IsCheck, pos.Turn()), s.st.SelfID, s.st.OpponentID)
	s.logger.Info("session_sync_pushed", zap.String("peer_id", s.st.OpponentID), zap.Int("moves", pos.Len()))
	return s.send(ctx, protocol.NewSyncGameState(payload))
}

// settle walks from through ResyncSucceeded back to InProgress, unless something else moved the phase first.
func (s *Session) settle(attempt uint64, from Phase) {
	s.rs.Settle(attempt, func() {
		if s.st.Phase != from {
			return
		}
		s.st.Phase = PhaseResyncSucceeded
		s.publish()
	}, func() {
		if s.st.Phase != PhaseResyncSucceeded {
			return
		}
		s.st.Phase = PhaseInProgress
		s.publish()
	})
}
