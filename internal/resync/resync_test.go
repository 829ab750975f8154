package resync

import (
	"errors"
	"testing"
	"time"

	"github.com/park285/cheese-p2pchess/internal/clock"
	"github.com/park285/cheese-p2pchess/internal/position"
	"github.com/park285/cheese-p2pchess/internal/protocol"
)

const (
	show   = 500 * time.Millisecond
	settle = 1500 * time.Millisecond
)

func newCoordinator() (*Coordinator, *clock.Manual) {
	clk := clock.NewManual(time.Unix(0, 0))
	return New(Config{ShowDelay: show, SettleDelay: settle, Scheduler: clk}), clk
}

func TestSettleRunsBothDelaysInOrder(t *testing.T) {
	c, clk := newCoordinator()
	var got []string
	id := c.Begin()
	c.Settle(id, func() { got = append(got, "succeeded") }, func() { got = append(got, "settled") })

	clk.Advance(show - time.Millisecond)
	if len(got) != 0 {
		t.Fatalf("fired early: %v", got)
	}
	clk.Advance(time.Millisecond)
	if len(got) != 1 || got[0] != "succeeded" {
		t.Fatalf("after show delay: %v", got)
	}
	if !c.Pending() {
		t.Fatalf("settle delay not pending")
	}
	clk.Advance(settle)
	if len(got) != 2 || got[1] != "settled" {
		t.Fatalf("after settle delay: %v", got)
	}
	if c.Pending() {
		t.Fatalf("timers left behind")
	}
}

func TestNewAttemptDropsStaleCallbacks(t *testing.T) {
	c, clk := newCoordinator()
	var got []string
	first := c.Begin()
	c.Settle(first, func() { got = append(got, "first") }, func() { got = append(got, "first-settled") })
	clk.Advance(show)
	if len(got) != 1 {
		t.Fatalf("first attempt did not show: %v", got)
	}

	second := c.Begin()
	if c.Current(first) || !c.Current(second) {
		t.Fatalf("attempt numbering: first=%d second=%d current=%d", first, second, c.Attempt())
	}
	clk.Advance(time.Hour)
	if len(got) != 1 {
		t.Fatalf("stale callback ran: %v", got)
	}
	if clk.Pending() != 0 {
		t.Fatalf("stale timer still scheduled")
	}
}

func TestSettleIgnoresSupersededAttempt(t *testing.T) {
	c, clk := newCoordinator()
	old := c.Begin()
	c.Begin()
	ran := false
	c.Settle(old, func() { ran = true }, nil)
	clk.Advance(time.Hour)
	if ran {
		t.Fatalf("superseded attempt scheduled callbacks")
	}
}

func TestCancel(t *testing.T) {
	c, clk := newCoordinator()
	ran := false
	id := c.Begin()
	c.Settle(id, func() { ran = true }, nil)
	c.Cancel()
	clk.Advance(time.Hour)
	if ran || c.Current(id) {
		t.Fatalf("cancel did not invalidate attempt")
	}
}

func played(t *testing.T, uci ...string) position.Position {
	t.Helper()
	p := position.Initial()
	for _, s := range uci {
		mv, err := protocol.ParseUCI(s)
		if err != nil {
			t.Fatalf("ParseUCI(%s): %v", s, err)
		}
		p, err = position.Apply(p, mv)
		if err != nil {
			t.Fatalf("Apply(%s): %v", s, err)
		}
	}
	return p
}

func TestBuildSync(t *testing.T) {
	p := played(t, "e2e4", "e7e5", "g1f3")
	s := BuildSync(p, protocol.StatusInProgress, "host", "guest")
	if !s.IsHostInitiated || s.PlayerWhiteID != "host" || s.PlayerBlackID != "guest" {
		t.Fatalf("identity fields: %+v", s)
	}
	if len(s.MoveHistory) != 3 || s.LastMove == nil || s.LastMove.UCI() != "g1f3" {
		t.Fatalf("history: %+v last=%v", s.MoveHistory, s.LastMove)
	}
	if s.Turn != protocol.Black || s.FEN != p.FEN() {
		t.Fatalf("position fields: turn=%s fen=%s", s.Turn, s.FEN)
	}
	if err := s.Validate(); err != nil {
		t.Fatalf("payload invalid: %v", err)
	}
}

func TestValidate(t *testing.T) {
	good := BuildSync(played(t, "e2e4", "e7e5"), protocol.StatusInProgress, "host", "guest")

	pos, err := Validate(good, false, position.StartFEN)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if pos.Len() != 2 || !position.SameBoard(pos.FEN(), good.FEN) {
		t.Fatalf("rebuilt position: %s (%d moves)", pos.FEN(), pos.Len())
	}

	if _, err := Validate(good, true, position.StartFEN); !errors.Is(err, ErrNotHostOrigin) {
		t.Fatalf("host receiver: %v", err)
	}

	notHost := good
	notHost.IsHostInitiated = false
	if _, err := Validate(notHost, false, position.StartFEN); !errors.Is(err, ErrNotHostOrigin) {
		t.Fatalf("non-host origin: %v", err)
	}

	wrongFEN := good
	wrongFEN.FEN = played(t, "d2d4", "d7d5").FEN()
	if _, err := Validate(wrongFEN, false, position.StartFEN); !errors.Is(err, ErrInconsistent) {
		t.Fatalf("fen mismatch: %v", err)
	}

	illegal := good
	illegal.MoveHistory = []protocol.Move{{From: "e2", To: "e5"}}
	if _, err := Validate(illegal, false, position.StartFEN); !errors.Is(err, ErrInconsistent) {
		t.Fatalf("illegal history: %v", err)
	}

	wrongTurn := good
	wrongTurn.Turn = protocol.Black
	if _, err := Validate(wrongTurn, false, position.StartFEN); !errors.Is(err, ErrInconsistent) {
		t.Fatalf("turn mismatch: %v", err)
	}
}
