package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/park285/cheese-p2pchess/internal/clock"
	"github.com/park285/cheese-p2pchess/internal/protocol"
	"github.com/park285/cheese-p2pchess/internal/session"
	"github.com/park285/cheese-p2pchess/internal/transport/memroom"
)

func newTestConsole(hub *memroom.Hub, clk *clock.Manual) (*console, *bytes.Buffer) {
	var buf bytes.Buffer
	c := newConsole(&buf)
	c.s = session.New(hub, session.Config{AppID: "cli-test", Scheduler: clk, OnChange: c.onChange})
	return c, &buf
}

func TestConsolePlaysAGame(t *testing.T) {
	hub := memroom.NewHub()
	clk := clock.NewManual(time.Unix(0, 0))
	host, hostOut := newTestConsole(hub, clk)
	guest, guestOut := newTestConsole(hub, clk)
	ctx := context.Background()

	host.handle(ctx, "host")
	id := host.s.Snapshot().GameID
	if id == "" || !strings.Contains(hostOut.String(), "Game ID: "+id) {
		t.Fatalf("host output: %q", hostOut.String())
	}
	guest.handle(ctx, "join "+strings.ToUpper(id))
	if got := guest.s.Snapshot().LocalColor; got != protocol.Black {
		t.Fatalf("guest color %q", got)
	}
	if !strings.Contains(hostOut.String(), "» Your turn (White)") {
		t.Fatalf("host output: %q", hostOut.String())
	}

	host.handle(ctx, "e2e4")
	guest.handle(ctx, "move e7e5")
	if got := len(host.s.Snapshot().MoveHistory); got != 2 {
		t.Fatalf("history length %d", got)
	}
	guest.handle(ctx, "d7d5")
	if !strings.Contains(guestOut.String(), "move: session: not your turn") {
		t.Fatalf("guest output: %q", guestOut.String())
	}
	if !strings.Contains(guestOut.String(), "! It is not your turn.") {
		t.Fatalf("rejection line missing: %q", guestOut.String())
	}

	guest.handle(ctx, "resign")
	if !strings.Contains(hostOut.String(), "» Black resigned. White wins.") {
		t.Fatalf("host output: %q", hostOut.String())
	}
}

func TestConsoleUsageAndUnknown(t *testing.T) {
	c, out := newTestConsole(memroom.NewHub(), clock.NewManual(time.Unix(0, 0)))
	ctx := context.Background()
	for _, line := range []string{"join", "move", "dance", "move e9e4"} {
		if !c.handle(ctx, line) {
			t.Fatalf("%q quit the console", line)
		}
	}
	text := out.String()
	for _, want := range []string{"usage: join <id>", "usage: move <uci>", "Unknown command", `bad move "e9e4"`} {
		if !strings.Contains(text, want) {
			t.Fatalf("missing %q in %q", want, text)
		}
	}
	if c.handle(ctx, "quit") {
		t.Fatalf("quit did not stop the console")
	}
}

func TestRunStopsAtQuitOrEOF(t *testing.T) {
	c, out := newTestConsole(memroom.NewHub(), clock.NewManual(time.Unix(0, 0)))
	if err := run(context.Background(), c, strings.NewReader("status\nquit\nstatus\n")); !errors.Is(err, errQuit) {
		t.Fatalf("run: %v", err)
	}
	if n := strings.Count(out.String(), "Awaiting connection..."); n != 2 {
		t.Fatalf("expected the initial status and one status reply, got %d in %q", n, out.String())
	}
	if err := run(context.Background(), c, strings.NewReader("")); !errors.Is(err, errQuit) {
		t.Fatalf("run on EOF: %v", err)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	c, _ := newTestConsole(memroom.NewHub(), clock.NewManual(time.Unix(0, 0)))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	pr := blockingReader{}
	if err := run(ctx, c, pr); !errors.Is(err, context.Canceled) {
		t.Fatalf("run: %v", err)
	}
}

type blockingReader struct{}

func (blockingReader) Read([]byte) (int, error) { select {} }

func TestFormatMoves(t *testing.T) {
	if got := formatMoves(nil); got != "(no moves)" {
		t.Fatalf("empty: %q", got)
	}
	moves := []protocol.Move{{From: "e2", To: "e4"}, {From: "e7", To: "e5"}, {From: "g1", To: "f3"}}
	if got := formatMoves(moves); got != "1. e2e4 e7e5 2. g1f3" {
		t.Fatalf("formatMoves = %q", got)
	}
}
