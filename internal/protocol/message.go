package protocol

import (
	"time"
)

// Payload is implemented by every typed message body.
type Payload interface {
	MessageType() Type
	Validate() error
}

// Message is one protocol frame. Payload is nil for REQUEST_GAME_STATE, DRAW_OFFER and DRAW_ACCEPT.
type Message struct {
	Type    Type
	Payload Payload
}

type ConnectionConfirmed struct {
	GameID         string  `json:"gameId"`
	AssignedColor  Color   `json:"assignedColor"`
	OpponentPeerID string  `json:"opponentPeerId"`
	StartingFEN    *string `json:"startingFen"`
	StartingTurn   *Color  `json:"startingTurn"`
}

func (ConnectionConfirmed) MessageType() Type { return TypeConnectionConfirmed }

func (p ConnectionConfirmed) Validate() error {
	if p.GameID == "" || p.OpponentPeerID == "" {
		return malformed("connection confirmed: empty id")
	}
	if !p.AssignedColor.Valid() {
		return malformed("connection confirmed: color %q", p.AssignedColor)
	}
	if p.StartingTurn != nil && !p.StartingTurn.Valid() {
		return malformed("connection confirmed: turn %q", *p.StartingTurn)
	}
	return nil
}

type InitialGameSetup struct {
	StartingFEN   string `json:"startingFen"`
	PlayerWhiteID string `json:"playerWhiteId"`
	PlayerBlackID string `json:"playerBlackId"`
}

func (InitialGameSetup) MessageType() Type { return TypeInitialGameSetup }

func (p InitialGameSetup) Validate() error {
	if p.StartingFEN == "" || p.PlayerWhiteID == "" || p.PlayerBlackID == "" {
		return malformed("initial game setup: empty field")
	}
	if p.PlayerWhiteID == p.PlayerBlackID {
		return malformed("initial game setup: same peer on both sides")
	}
	return nil
}

// MovePayload is the MOVE body. It shares the Move wire shape.
type MovePayload struct {
	Move
}

func (MovePayload) MessageType() Type { return TypeMove }

type GameStateUpdate struct {
	FEN        string     `json:"fen"`
	Turn       Color      `json:"turn"`
	GameStatus GameStatus `json:"gameStatus"`
	LastMove   *Move      `json:"lastMove"`
}

func (GameStateUpdate) MessageType() Type { return TypeGameStateUpdate }

func (p GameStateUpdate) Validate() error {
	return validateState("game state update", p.FEN, p.Turn, p.GameStatus, p.LastMove)
}

type SyncGameState struct {
	FEN             string     `json:"fen"`
	Turn            Color      `json:"turn"`
	GameStatus      GameStatus `json:"gameStatus"`
	LastMove        *Move      `json:"lastMove"`
	MoveHistory     []Move     `json:"moveHistory"`
	PlayerWhiteID   string     `json:"playerWhiteId"`
	PlayerBlackID   string     `json:"playerBlackId"`
	IsHostInitiated bool       `json:"isHostInitiated"`
}

func (SyncGameState) MessageType() Type { return TypeSyncGameState }

func (p SyncGameState) Validate() error {
	if err := validateState("sync game state", p.FEN, p.Turn, p.GameStatus, p.LastMove); err != nil {
		return err
	}
	if p.MoveHistory == nil {
		return malformed("sync game state: missing moveHistory")
	}
	for i, mv := range p.MoveHistory {
		if err := mv.Validate(); err != nil {
			return malformed("sync game state: history[%d]: %v", i, err)
		}
	}
	if p.PlayerWhiteID == "" || p.PlayerBlackID == "" {
		return malformed("sync game state: empty player id")
	}
	return nil
}

type Resign struct {
	ResigningColor Color  `json:"resigningColor"`
	Timestamp      string `json:"timestamp"`
}

func (Resign) MessageType() Type { return TypeResign }

func (p Resign) Validate() error {
	if !p.ResigningColor.Valid() {
		return malformed("resign: color %q", p.ResigningColor)
	}
	if _, err := time.Parse(time.RFC3339, p.Timestamp); err != nil {
		return malformed("resign: timestamp %q", p.Timestamp)
	}
	return nil
}

type ErrorPayload struct {
	Message string  `json:"message"`
	Code    *string `json:"code"`
}

func (ErrorPayload) MessageType() Type { return TypeError }

func (p ErrorPayload) Validate() error {
	if p.Message == "" {
		return malformed("error: empty message")
	}
	return nil
}

// Error codes carried in ERROR frames.
const (
	CodeNotHost          = "NOT_HOST"
	CodeMalformedMessage = "MALFORMED_MESSAGE"
	CodeUnknownType      = "UNKNOWN_TYPE"
)

func validateState(what, fen string, turn Color, status GameStatus, last *Move) error {
	if fen == "" {
		return malformed("%s: empty fen", what)
	}
	if !turn.Valid() {
		return malformed("%s: turn %q", what, turn)
	}
	if !status.Valid() {
		return malformed("%s: status %q", what, status)
	}
	if last != nil {
		if err := last.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func NewConnectionConfirmed(gameID string, assigned Color, opponentID string, startingFEN *string, startingTurn *Color) Message {
	return Message{Type: TypeConnectionConfirmed, Payload: ConnectionConfirmed{
		GameID: gameID, AssignedColor: assigned, OpponentPeerID: opponentID,
		StartingFEN: startingFEN, StartingTurn: startingTurn,
	}}
}

func NewInitialGameSetup(fen, whiteID, blackID string) Message {
	return Message{Type: TypeInitialGameSetup, Payload: InitialGameSetup{StartingFEN: fen, PlayerWhiteID: whiteID, PlayerBlackID: blackID}}
}

func NewMove(mv Move) Message {
	return Message{Type: TypeMove, Payload: MovePayload{Move: mv}}
}

func NewGameStateUpdate(fen string, turn Color, status GameStatus, last *Move) Message {
	return Message{Type: TypeGameStateUpdate, Payload: GameStateUpdate{FEN: fen, Turn: turn, GameStatus: status, LastMove: last}}
}

func NewRequestGameState() Message { return Message{Type: TypeRequestGameState} }

func NewSyncGameState(p SyncGameState) Message {
	if p.MoveHistory == nil {
		p.MoveHistory = []Move{}
	}
	return Message{Type: TypeSyncGameState, Payload: p}
}

func NewResign(c Color, at time.Time) Message {
	return Message{Type: TypeResign, Payload: Resign{ResigningColor: c, Timestamp: at.UTC().Format(time.RFC3339)}}
}

func NewDrawOffer() Message  { return Message{Type: TypeDrawOffer} }
func NewDrawAccept() Message { return Message{Type: TypeDrawAccept} }

func NewError(msg string, code string) Message {
	p := ErrorPayload{Message: msg}
	if code != "" {
		p.Code = &code
	}
	return Message{Type: TypeError, Payload: p}
}
