package session

import (
	"github.com/park285/cheese-p2pchess/internal/protocol"
)

// Snapshot is an immutable copy of the session for presentation layers.
type Snapshot struct {
	GameID        string
	SelfID        string
	OpponentID    string
	Role          Role
	Phase         Phase
	LocalColor    protocol.Color
	OpponentColor protocol.Color

	FEN         string
	Turn        protocol.Color
	IsCheck     bool
	Outcome     Outcome
	MoveHistory []protocol.Move
	Board       string

	DrawOffered           bool
	DrawOfferedByOpponent bool
	CanMove               bool
	LastError             string

	StatusKey string
	Status    string
}

// infoInput picks the catalog keys for the own-color and opponent lines.
func (s Snapshot) infoInput() (colorKey string, colorData map[string]string, peerKey string, peerData map[string]string) {
	colorKey = "info.no_color"
	if s.LocalColor != "" {
		colorKey, colorData = "info.you_are", map[string]string{"Color": s.LocalColor.Name()}
	}
	peerKey = "info.not_connected"
	if s.OpponentID != "" {
		peerKey, peerData = "info.connected_to", map[string]string{"Opponent": shortID(s.OpponentID)}
	}
	return colorKey, colorData, peerKey, peerData
}

func (s *Session) statusInput() StatusInput {
	return StatusInput{
		Outcome:    s.st.Outcome,
		Phase:      s.st.Phase,
		Role:       s.st.Role,
		Turn:       s.st.Position.Turn(),
		LocalColor: s.st.LocalColor,
		IsCheck:    s.st.IsCheck,
		GameID:     s.st.GameID,
		OpponentID: s.st.OpponentID,
	}
}

// publish renders the current state into a new snapshot. Runs on the executor.
func (s *Session) publish() {
	line := Status(s.statusInput())
	pos := s.st.Position
	snap := &Snapshot{
		GameID:                s.st.GameID,
		SelfID:                s.st.SelfID,
		OpponentID:            s.st.OpponentID,
		Role:                  s.st.Role,
		Phase:                 s.st.Phase,
		LocalColor:            s.st.LocalColor,
		OpponentColor:         s.st.OpponentColor,
		FEN:                   pos.FEN(),
		Turn:                  pos.Turn(),
		IsCheck:               s.st.IsCheck,
		Outcome:               s.st.Outcome,
		MoveHistory:           pos.Moves(),
		Board:                 pos.Draw(),
		DrawOffered:           s.st.DrawOffered,
		DrawOfferedByOpponent: s.st.DrawOfferedByOpponent,
		CanMove:               s.st.canMove() && s.ch.InRoom(),
		LastError:             s.st.LastError,
		StatusKey:             line.Key,
		Status:                s.cat.RenderOr(line.Key, line.Data, s.cat.RenderOr("status.unknown", nil, "Game status unknown.")),
	}
	s.snap.Store(snap)
	if s.cfg.OnChange != nil {
		s.cfg.OnChange(*snap)
	}
}

// Info renders the secondary status lines for snap.
func (s *Session) Info(snap Snapshot) []string {
	ck, cd, pk, pd := snap.infoInput()
	lines := []string{s.cat.RenderOr(ck, cd, ck), s.cat.RenderOr(pk, pd, pk)}
	switch {
	case snap.DrawOfferedByOpponent:
		lines = append(lines, s.cat.RenderOr("info.draw_offered", nil, "info.draw_offered"))
	case snap.DrawOffered:
		lines = append(lines, s.cat.RenderOr("info.draw_pending", nil, "info.draw_pending"))
	}
	return lines
}
