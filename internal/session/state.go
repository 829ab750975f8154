package session

import (
	"github.com/park285/cheese-p2pchess/internal/position"
	"github.com/park285/cheese-p2pchess/internal/protocol"
)

// Role is fixed when a room is created or joined and survives reconnects.
type Role int

const (
	RoleNone Role = iota
	RoleHost
	RoleJoiner
)

func (r Role) String() string {
	switch r {
	case RoleHost:
		return "host"
	case RoleJoiner:
		return "joiner"
	}
	return "none"
}

// Phase is the connection side of the displayed status.
type Phase int

const (
	PhaseAwaitingConnection Phase = iota
	PhaseSettingUp
	PhaseConnected
	PhaseInProgress
	PhaseConnectionLost
	PhaseOpponentReconnected
	PhaseResynchronizing
	PhaseResyncSucceeded
	PhaseResyncFailed
	PhaseDisconnected
	PhaseConnectionFailed
)

var phaseNames = [...]string{
	PhaseAwaitingConnection:  "awaiting_connection",
	PhaseSettingUp:           "setting_up",
	PhaseConnected:           "connected",
	PhaseInProgress:          "in_progress",
	PhaseConnectionLost:      "connection_lost",
	PhaseOpponentReconnected: "opponent_reconnected",
	PhaseResynchronizing:     "resynchronizing",
	PhaseResyncSucceeded:     "resync_succeeded",
	PhaseResyncFailed:        "resync_failed",
	PhaseDisconnected:        "disconnected",
	PhaseConnectionFailed:    "connection_failed",
}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return "unknown"
	}
	return phaseNames[p]
}

// Phases lists every phase, for exhaustive checks.
func Phases() []Phase {
	out := make([]Phase, len(phaseNames))
	for i := range out {
		out[i] = Phase(i)
	}
	return out
}

// playable reports whether local moves may be made in p.
func (p Phase) playable() bool {
	return p == PhaseConnected || p == PhaseInProgress || p == PhaseResyncSucceeded
}

type OutcomeKind int

const (
	Ongoing OutcomeKind = iota
	CheckmateWin
	StalemateDraw
	RepetitionDraw
	FiftyMoveDraw
	InsufficientMaterialDraw
	AgreedDraw
	ResignationWin
	ErrorTermination
)

// Outcome is the game result. Winner is set for CheckmateWin and ResignationWin only.
type Outcome struct {
	Kind   OutcomeKind
	Winner protocol.Color
}

func (o Outcome) Terminal() bool { return o.Kind != Ongoing }

func (o Outcome) String() string {
	switch o.Kind {
	case Ongoing:
		return "ongoing"
	case CheckmateWin:
		return "checkmate, " + o.Winner.Name() + " wins"
	case StalemateDraw:
		return "stalemate"
	case RepetitionDraw:
		return "draw by repetition"
	case FiftyMoveDraw:
		return "draw by fifty-move rule"
	case InsufficientMaterialDraw:
		return "draw by insufficient material"
	case AgreedDraw:
		return "draw agreed"
	case ResignationWin:
		return "resignation, " + o.Winner.Name() + " wins"
	case ErrorTermination:
		return "ended by error"
	}
	return "unknown"
}

// outcomeOf derives the result the rules decide on their own.
func outcomeOf(st position.Status) Outcome {
	switch {
	case st.IsCheckmate:
		return Outcome{Kind: CheckmateWin, Winner: st.Turn.Opponent()}
	case st.IsStalemate:
		return Outcome{Kind: StalemateDraw}
	case st.IsThreefoldRepetition:
		return Outcome{Kind: RepetitionDraw}
	case st.IsFiftyMoveDraw:
		return Outcome{Kind: FiftyMoveDraw}
	case st.IsInsufficientMaterial:
		return Outcome{Kind: InsufficientMaterialDraw}
	}
	return Outcome{}
}

// State is one client's view of the game. Move history lives in Position, so the
// history and the board cannot drift apart.
type State struct {
	Role          Role
	GameID        string
	SelfID        string
	LocalColor    protocol.Color
	OpponentColor protocol.Color
	OpponentID    string

	Position position.Position
	Phase    Phase
	Outcome  Outcome
	IsCheck  bool

	DrawOffered           bool
	DrawOfferedByOpponent bool

	LastError string
}

func freshState() State {
	return State{Position: position.Initial()}
}

// assignColor sets the local side once. It reports false when a different side is already held.
func (s *State) assignColor(c protocol.Color) bool {
	if s.LocalColor == "" {
		s.LocalColor = c
		s.OpponentColor = c.Opponent()
		return true
	}
	return s.LocalColor == c
}

func (s *State) canMove() bool {
	return s.Phase.playable() && s.LocalColor != "" && !s.Outcome.Terminal() && s.Position.Turn() == s.LocalColor
}

func (s *State) clearDrawOffers() {
	s.DrawOffered = false
	s.DrawOfferedByOpponent = false
}
