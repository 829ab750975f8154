package protocol

// Type names one message kind on the gameData channel.
type Type string

const (
	TypeConnectionConfirmed Type = "CONNECTION_CONFIRMED"
	TypeInitialGameSetup    Type = "INITIAL_GAME_SETUP"
	TypeMove                Type = "MOVE"
	TypeGameStateUpdate     Type = "GAME_STATE_UPDATE"
	TypeRequestGameState    Type = "REQUEST_GAME_STATE"
	TypeSyncGameState       Type = "SYNC_GAME_STATE"
	TypeResign              Type = "RESIGN"
	TypeDrawOffer           Type = "DRAW_OFFER"
	TypeDrawAccept          Type = "DRAW_ACCEPT"
	TypeError               Type = "ERROR"
)

// Known reports whether t is part of the closed message set.
func (t Type) Known() bool {
	switch t {
	case TypeConnectionConfirmed, TypeInitialGameSetup, TypeMove, TypeGameStateUpdate,
		TypeRequestGameState, TypeSyncGameState, TypeResign, TypeDrawOffer, TypeDrawAccept, TypeError:
		return true
	}
	return false
}

// Color is the wire form of a side: "w" or "b".
type Color string

const (
	White Color = "w"
	Black Color = "b"
)

func (c Color) Valid() bool { return c == White || c == Black }

// Opponent returns the other side. An invalid color stays invalid.
func (c Color) Opponent() Color {
	switch c {
	case White:
		return Black
	case Black:
		return White
	}
	return c
}

// Name is the capitalised English name used in status lines.
func (c Color) Name() string {
	switch c {
	case White:
		return "White"
	case Black:
		return "Black"
	}
	return ""
}

// Piece is a promotion target. Kings and pawns are not allowed.
type Piece string

const (
	Knight Piece = "n"
	Bishop Piece = "b"
	Rook   Piece = "r"
	Queen  Piece = "q"
)

func (p Piece) Valid() bool {
	switch p {
	case Knight, Bishop, Rook, Queen:
		return true
	}
	return false
}

// GameStatus is the status enumeration carried by GAME_STATE_UPDATE and SYNC_GAME_STATE.
type GameStatus string

const (
	StatusAwaitingConnection             GameStatus = "AWAITING_CONNECTION"
	StatusConnectionFailed               GameStatus = "CONNECTION_FAILED"
	StatusSettingUp                      GameStatus = "SETTING_UP"
	StatusInProgress                     GameStatus = "IN_PROGRESS"
	StatusWhiteInCheck                   GameStatus = "WHITE_IN_CHECK"
	StatusBlackInCheck                   GameStatus = "BLACK_IN_CHECK"
	StatusCheckmateWhiteWins             GameStatus = "CHECKMATE_WHITE_WINS"
	StatusCheckmateBlackWins             GameStatus = "CHECKMATE_BLACK_WINS"
	StatusStalemateDraw                  GameStatus = "STALEMATE_DRAW"
	StatusDrawByThreefoldRepetition      GameStatus = "DRAW_BY_THREEFOLD_REPETITION"
	StatusDrawByFiftyMoveRule            GameStatus = "DRAW_BY_FIFTY_MOVE_RULE"
	StatusDrawByInsufficientMaterial     GameStatus = "DRAW_BY_INSUFFICIENT_MATERIAL"
	StatusResignationWhiteWins           GameStatus = "RESIGNATION_WHITE_WINS"
	StatusResignationBlackWins           GameStatus = "RESIGNATION_BLACK_WINS"
	StatusDrawAgreed                     GameStatus = "DRAW_AGREED"
	StatusDisconnectedOpponentLeft       GameStatus = "DISCONNECTED_OPPONENT_LEFT"
	StatusConnectionLostReconnecting     GameStatus = "CONNECTION_LOST_ATTEMPTING_RECONNECT"
	StatusOpponentReconnectedAwaitSync   GameStatus = "OPPONENT_RECONNECTED_AWAITING_SYNC"
	StatusResynchronizing                GameStatus = "RESYNCHRONIZING_GAME_STATE"
	StatusResynchronizationSuccessful    GameStatus = "RESYNCHRONIZATION_SUCCESSFUL"
	StatusResynchronizationFailed        GameStatus = "RESYNCHRONIZATION_FAILED"
	StatusGameEndedByError               GameStatus = "GAME_ENDED_BY_ERROR"
)

var knownStatuses = map[GameStatus]struct{}{
	StatusAwaitingConnection: {}, StatusConnectionFailed: {}, StatusSettingUp: {}, StatusInProgress: {},
	StatusWhiteInCheck: {}, StatusBlackInCheck: {}, StatusCheckmateWhiteWins: {}, StatusCheckmateBlackWins: {},
	StatusStalemateDraw: {}, StatusDrawByThreefoldRepetition: {}, StatusDrawByFiftyMoveRule: {},
	StatusDrawByInsufficientMaterial: {}, StatusResignationWhiteWins: {}, StatusResignationBlackWins: {},
	StatusDrawAgreed: {}, StatusDisconnectedOpponentLeft: {}, StatusConnectionLostReconnecting: {},
	StatusOpponentReconnectedAwaitSync: {}, StatusResynchronizing: {}, StatusResynchronizationSuccessful: {},
	StatusResynchronizationFailed: {}, StatusGameEndedByError: {},
}

func (s GameStatus) Valid() bool {
	_, ok := knownStatuses[s]
	return ok
}

// Move is one half-move in algebraic square notation.
type Move struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Promotion *Piece `json:"promotion"`
}

// UCI renders the move as e2e4 / e7e8q.
func (m Move) UCI() string {
	s := m.From + m.To
	if m.Promotion != nil {
		s += string(*m.Promotion)
	}
	return s
}

func (m Move) String() string { return m.UCI() }

// Equal compares squares and promotion piece.
func (m Move) Equal(o Move) bool {
	if m.From != o.From || m.To != o.To {
		return false
	}
	if m.Promotion == nil || o.Promotion == nil {
		return m.Promotion == nil && o.Promotion == nil
	}
	return *m.Promotion == *o.Promotion
}

// Promote returns a pointer suitable for Move.Promotion; empty input yields nil.
func Promote(p Piece) *Piece {
	if p == "" {
		return nil
	}
	return &p
}

func validSquare(s string) bool {
	return len(s) == 2 && s[0] >= 'a' && s[0] <= 'h' && s[1] >= '1' && s[1] <= '8'
}

// Validate checks square syntax and the promotion piece.
func (m Move) Validate() error {
	if !validSquare(m.From) || !validSquare(m.To) {
		return malformed("move squares %q-%q", m.From, m.To)
	}
	if m.Promotion != nil && !m.Promotion.Valid() {
		return malformed("promotion piece %q", string(*m.Promotion))
	}
	return nil
}

// ParseUCI accepts e2e4 or e7e8q.
func ParseUCI(s string) (Move, error) {
	if len(s) != 4 && len(s) != 5 {
		return Move{}, malformed("uci move %q", s)
	}
	mv := Move{From: s[0:2], To: s[2:4]}
	if len(s) == 5 {
		mv.Promotion = Promote(Piece(s[4:]))
	}
	if err := mv.Validate(); err != nil {
		return Move{}, err
	}
	return mv, nil
}
