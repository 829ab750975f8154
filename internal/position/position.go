// Package position adapts the chess rules engine to the values the session works with:
// an immutable position that carries its own move list, move application, and status queries.
package position

import (
	"errors"
	"fmt"
	"strings"

	nchess "github.com/corentings/chess/v2"
	"github.com/park285/cheese-p2pchess/internal/protocol"
)

// StartFEN is the standard initial position.
const StartFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

var (
	ErrRejected   = errors.New("position: move rejected")
	ErrInvalidFEN = errors.New("position: invalid fen")
)

// Position is a snapshot of a game: the starting FEN plus every move applied since.
// Values are never mutated after construction; Apply returns a new Position.
type Position struct {
	start string
	moves []protocol.Move
	game  *nchess.Game
}

// Status is the engine's view of a position.
type Status struct {
	Turn                   protocol.Color
	IsCheck                bool
	IsCheckmate            bool
	IsStalemate            bool
	IsThreefoldRepetition  bool
	IsInsufficientMaterial bool
	IsFiftyMoveDraw        bool
}

// Terminal reports whether no further moves can be played.
func (s Status) Terminal() bool {
	return s.IsCheckmate || s.IsStalemate || s.IsThreefoldRepetition || s.IsInsufficientMaterial || s.IsFiftyMoveDraw
}

// Initial returns the standard starting position.
func Initial() Position {
	return Position{start: StartFEN, game: nchess.NewGame()}
}

// FromFEN loads an arbitrary starting position.
func FromFEN(fen string) (Position, error) {
	fen = strings.TrimSpace(fen)
	if fen == "" || fen == StartFEN {
		return Initial(), nil
	}
	opt, err := nchess.FEN(fen)
	if err != nil {
		return Position{}, fmt.Errorf("%w: %v", ErrInvalidFEN, err)
	}
	return Position{start: fen, game: nchess.NewGame(opt)}, nil
}

// Replay applies moves in order to the given starting FEN.
func Replay(startFEN string, moves []protocol.Move) (Position, error) {
	p, err := FromFEN(startFEN)
	if err != nil {
		return Position{}, err
	}
	for i, mv := range moves {
		next, err := Apply(p, mv)
		if err != nil {
			return Position{}, fmt.Errorf("replay move %d (%s): %w", i+1, mv.UCI(), err)
		}
		p = next
	}
	return p, nil
}

// Apply plays mv on p. The engine decides legality; p itself is left untouched.
func Apply(p Position, mv protocol.Move) (Position, error) {
	if p.game == nil {
		p = Initial()
	}
	if err := mv.Validate(); err != nil {
		return Position{}, fmt.Errorf("%w: %v", ErrRejected, err)
	}
	game, err := rebuild(p.start, p.moves)
	if err != nil {
		return Position{}, err
	}
	if game.Outcome() != nchess.NoOutcome {
		return Position{}, fmt.Errorf("%w: game already decided", ErrRejected)
	}
	if err := game.PushNotationMove(mv.UCI(), nchess.UCINotation{}, nil); err != nil {
		return Position{}, fmt.Errorf("%w: %s: %v", ErrRejected, mv.UCI(), err)
	}
	moves := make([]protocol.Move, len(p.moves), len(p.moves)+1)
	copy(moves, p.moves)
	moves = append(moves, mv)
	return Position{start: p.start, moves: moves, game: game}, nil
}

// rebuild replays stored moves from the start so that each Position owns its own engine game.
func rebuild(start string, moves []protocol.Move) (*nchess.Game, error) {
	var game *nchess.Game
	if start == "" || start == StartFEN {
		game = nchess.NewGame()
	} else {
		opt, err := nchess.FEN(start)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidFEN, err)
		}
		game = nchess.NewGame(opt)
	}
	for _, mv := range moves {
		if err := game.PushNotationMove(mv.UCI(), nchess.UCINotation{}, nil); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrRejected, mv.UCI(), err)
		}
	}
	return game, nil
}

func (p Position) engine() *nchess.Game {
	if p.game == nil {
		return nchess.NewGame()
	}
	return p.game
}

// FEN encodes the current position.
func (p Position) FEN() string { return p.engine().FEN() }

// StartFEN is the position the move list is replayed from.
func (p Position) StartFEN() string {
	if p.start == "" {
		return StartFEN
	}
	return p.start
}

// Moves returns a copy of the applied move list.
func (p Position) Moves() []protocol.Move {
	out := make([]protocol.Move, len(p.moves))
	copy(out, p.moves)
	return out
}

// Len is the number of applied moves.
func (p Position) Len() int { return len(p.moves) }

// LastMove returns the most recent move, or nil.
func (p Position) LastMove() *protocol.Move {
	if len(p.moves) == 0 {
		return nil
	}
	mv := p.moves[len(p.moves)-1]
	return &mv
}

func (p Position) Turn() protocol.Color {
	return colorOf(p.engine().Position().Turn())
}

// StatusOf answers the check, mate and draw queries for p.
func StatusOf(p Position) Status {
	game := p.engine()
	st := Status{Turn: colorOf(game.Position().Turn())}

	if moves := game.Moves(); len(moves) > 0 {
		st.IsCheck = moves[len(moves)-1].HasTag(nchess.Check)
	}

	switch game.Method() {
	case nchess.Checkmate:
		st.IsCheckmate = true
		st.IsCheck = true
	case nchess.Stalemate:
		st.IsStalemate = true
	case nchess.InsufficientMaterial:
		st.IsInsufficientMaterial = true
	case nchess.FivefoldRepetition, nchess.ThreefoldRepetition:
		st.IsThreefoldRepetition = true
	case nchess.SeventyFiveMoveRule, nchess.FiftyMoveRule:
		st.IsFiftyMoveDraw = true
	}
	if game.Outcome() == nchess.NoOutcome {
		for _, m := range game.EligibleDraws() {
			switch m {
			case nchess.ThreefoldRepetition:
				st.IsThreefoldRepetition = true
			case nchess.FiftyMoveRule:
				st.IsFiftyMoveDraw = true
			}
		}
	}
	return st
}

// Visited reports whether fen matches the board at some point of p's history, the current board included.
func Visited(p Position, fen string) bool {
	game, err := rebuild(p.start, nil)
	if err != nil {
		return false
	}
	if SameBoard(game.FEN(), fen) {
		return true
	}
	for _, mv := range p.moves {
		if err := game.PushNotationMove(mv.UCI(), nchess.UCINotation{}, nil); err != nil {
			return false
		}
		if SameBoard(game.FEN(), fen) {
			return true
		}
	}
	return false
}

// Draw renders the board as text for terminal clients.
func (p Position) Draw() string {
	return p.engine().Position().Board().Draw()
}

// Equal compares the boards of two positions.
func (p Position) Equal(o Position) bool { return SameBoard(p.FEN(), o.FEN()) }

func colorOf(c nchess.Color) protocol.Color {
	if c == nchess.Black {
		return protocol.Black
	}
	return protocol.White
}

// SameBoard compares two FENs on piece placement, side to move and castling rights.
// Engines disagree on when to emit an en-passant target, so that field and the counters are ignored.
func SameBoard(a, b string) bool {
	fa, fb := strings.Fields(a), strings.Fields(b)
	if len(fa) < 3 || len(fb) < 3 {
		return strings.TrimSpace(a) == strings.TrimSpace(b)
	}
	for i := 0; i < 3; i++ {
		if fa[i] != fb[i] {
			return false
		}
	}
	return true
}
