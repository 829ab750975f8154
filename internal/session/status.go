package session

import (
	"github.com/park285/cheese-p2pchess/internal/protocol"
)

// StatusInput is everything the status line depends on.
type StatusInput struct {
	Outcome    Outcome
	Phase      Phase
	Role       Role
	Turn       protocol.Color
	LocalColor protocol.Color
	IsCheck    bool
	GameID     string
	OpponentID string
}

// StatusLine is a catalog key plus its template data.
type StatusLine struct {
	Key  string
	Data map[string]string
}

// Status picks the one status line for in. Precedence: checkmate, draws, resignation,
// error termination, check, turn, then the connection phase.
func Status(in StatusInput) StatusLine {
	switch in.Outcome.Kind {
	case CheckmateWin:
		return StatusLine{Key: "status.checkmate", Data: map[string]string{"Winner": in.Outcome.Winner.Name()}}
	case StalemateDraw:
		return StatusLine{Key: "status.draw.stalemate"}
	case RepetitionDraw:
		return StatusLine{Key: "status.draw.repetition"}
	case FiftyMoveDraw:
		return StatusLine{Key: "status.draw.fifty_move"}
	case InsufficientMaterialDraw:
		return StatusLine{Key: "status.draw.insufficient_material"}
	case AgreedDraw:
		return StatusLine{Key: "status.draw.agreed"}
	case ResignationWin:
		return StatusLine{Key: "status.resignation", Data: map[string]string{
			"Winner": in.Outcome.Winner.Name(),
			"Loser":  in.Outcome.Winner.Opponent().Name(),
		}}
	case ErrorTermination:
		return StatusLine{Key: "status.error_termination"}
	}

	if inPlay(in) && in.Turn.Valid() {
		whose := "theirs"
		if in.Turn == in.LocalColor {
			whose = "yours"
		}
		color := map[string]string{"Color": in.Turn.Name()}
		switch {
		case in.IsCheck:
			return StatusLine{Key: "status.check." + whose, Data: color}
		case in.Phase == PhaseResyncSucceeded:
			return StatusLine{Key: "status.synced." + whose, Data: color}
		default:
			return StatusLine{Key: "status.turn." + whose, Data: color}
		}
	}

	switch in.Phase {
	case PhaseAwaitingConnection:
		return StatusLine{Key: "status.phase.awaiting_connection"}
	case PhaseSettingUp:
		if in.Role == RoleJoiner {
			return StatusLine{Key: "status.phase.joining", Data: map[string]string{"GameID": in.GameID}}
		}
		return StatusLine{Key: "status.phase.setting_up", Data: map[string]string{"GameID": in.GameID}}
	case PhaseConnected:
		return StatusLine{Key: "status.phase.connected"}
	case PhaseInProgress:
		return StatusLine{Key: "status.phase.in_progress"}
	case PhaseConnectionLost:
		return StatusLine{Key: "status.phase.connection_lost"}
	case PhaseOpponentReconnected:
		return StatusLine{Key: "status.phase.opponent_reconnected"}
	case PhaseResynchronizing:
		return StatusLine{Key: "status.phase.resynchronizing"}
	case PhaseResyncSucceeded:
		return StatusLine{Key: "status.phase.resync_succeeded"}
	case PhaseResyncFailed:
		return StatusLine{Key: "status.phase.resync_failed"}
	case PhaseDisconnected:
		return StatusLine{Key: "status.phase.disconnected", Data: map[string]string{"Opponent": shortID(in.OpponentID)}}
	case PhaseConnectionFailed:
		return StatusLine{Key: "status.phase.connection_failed"}
	}
	return StatusLine{Key: "status.unknown"}
}

// inPlay reports whether the turn indicator replaces the phase message.
func inPlay(in StatusInput) bool {
	switch in.Phase {
	case PhaseInProgress, PhaseResyncSucceeded:
		return true
	case PhaseConnected:
		return in.LocalColor != ""
	}
	return false
}

func shortID(id string) string {
	if id == "" {
		return "unknown"
	}
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// wireStatus is the game-level status carried in GAME_STATE_UPDATE and SYNC_GAME_STATE.
func wireStatus(o Outcome, isCheck bool, turn protocol.Color) protocol.GameStatus {
	switch o.Kind {
	case CheckmateWin:
		if o.Winner == protocol.White {
			return protocol.StatusCheckmateWhiteWins
		}
		return protocol.StatusCheckmateBlackWins
	case StalemateDraw:
		return protocol.StatusStalemateDraw
	case RepetitionDraw:
		return protocol.StatusDrawByThreefoldRepetition
	case FiftyMoveDraw:
		return protocol.StatusDrawByFiftyMoveRule
	case InsufficientMaterialDraw:
		return protocol.StatusDrawByInsufficientMaterial
	case AgreedDraw:
		return protocol.StatusDrawAgreed
	case ResignationWin:
		if o.Winner == protocol.White {
			return protocol.StatusResignationWhiteWins
		}
		return protocol.StatusResignationBlackWins
	case ErrorTermination:
		return protocol.StatusGameEndedByError
	}
	if isCheck {
		if turn == protocol.Black {
			return protocol.StatusBlackInCheck
		}
		return protocol.StatusWhiteInCheck
	}
	return protocol.StatusInProgress
}

// adoptableOutcome maps the wire results a position cannot prove on its own.
func adoptableOutcome(s protocol.GameStatus) (Outcome, bool) {
	switch s {
	case protocol.StatusResignationWhiteWins:
		return Outcome{Kind: ResignationWin, Winner: protocol.White}, true
	case protocol.StatusResignationBlackWins:
		return Outcome{Kind: ResignationWin, Winner: protocol.Black}, true
	case protocol.StatusDrawAgreed:
		return Outcome{Kind: AgreedDraw}, true
	case protocol.StatusGameEndedByError:
		return Outcome{Kind: ErrorTermination}, true
	}
	return Outcome{}, false
}
