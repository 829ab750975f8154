package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/park285/cheese-p2pchess/internal/protocol"
	"github.com/park285/cheese-p2pchess/internal/session"
)

// console turns typed lines into session actions and prints what changed.
type console struct {
	s *session.Session

	mu         sync.Mutex
	out        io.Writer
	lastStatus string
	lastError  string
}

func newConsole(out io.Writer) *console {
	return &console{out: out}
}

func (c *console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

// onChange prints the status line whenever it differs from the last one shown.
func (c *console) onChange(snap session.Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if snap.Status != c.lastStatus {
		c.lastStatus = snap.Status
		fmt.Fprintf(c.out, "» %s\n", snap.Status)
	}
	if snap.LastError != "" && snap.LastError != c.lastError {
		fmt.Fprintf(c.out, "! %s\n", snap.LastError)
	}
	c.lastError = snap.LastError
}

func helpText() string {
	return strings.Join([]string{
		"♞ P2P Chess",
		"",
		"• host               create a game and print its id",
		"• join <id>          join a game by id",
		"• move <uci>         play a move, e.g. e2e4 or e7e8q (or just type the move)",
		"• resign | draw | accept",
		"• sync               ask for the full game state",
		"• reconnect | leave",
		"• status | board | info | moves",
		"• quit",
	}, "\n")
}

// handle runs one input line. It reports false when the user asked to quit.
func (c *console) handle(ctx context.Context, line string) bool {
	parts := strings.Fields(strings.TrimSpace(line))
	if len(parts) == 0 {
		return true
	}
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case "quit", "exit":
		return false
	case "help", "?":
		c.printf("%s\n", helpText())
	case "host":
		id, err := c.s.CreateRoom(ctx)
		if err != nil {
			c.printf("host failed: %v\n", err)
			return true
		}
		c.printf("Game ID: %s (share it with your opponent)\n", id)
	case "join":
		if len(args) < 1 {
			c.printf("usage: join <id>\n")
			return true
		}
		if err := c.s.JoinRoomByID(ctx, args[0]); err != nil {
			c.printf("join failed: %v\n", err)
		}
	case "move", "mv":
		if len(args) < 1 {
			c.printf("usage: move <uci>\n")
			return true
		}
		c.move(ctx, args[0])
	case "resign":
		c.report("resign", c.s.Resign(ctx))
	case "draw":
		c.report("draw offer", c.s.OfferDraw(ctx))
	case "accept":
		c.report("accept", c.s.AcceptDraw(ctx))
	case "sync":
		c.report("sync", c.s.RequestSync(ctx))
	case "reconnect":
		c.report("reconnect", c.s.Reconnect(ctx))
	case "leave":
		c.report("leave", c.s.Leave())
	case "status":
		c.printf("%s\n", c.s.Snapshot().Status)
	case "board":
		snap := c.s.Snapshot()
		c.printf("%s\n%s\n", snap.Board, snap.FEN)
	case "info":
		snap := c.s.Snapshot()
		c.printf("%s\n", strings.Join(append([]string{snap.Status}, c.s.Info(snap)...), "\n"))
	case "moves":
		c.printf("%s\n", formatMoves(c.s.Snapshot().MoveHistory))
	default:
		if _, err := protocol.ParseUCI(cmd); err == nil {
			c.move(ctx, cmd)
			return true
		}
		c.printf("Unknown command. Try 'help'.\n")
	}
	return true
}

func (c *console) move(ctx context.Context, uci string) {
	mv, err := protocol.ParseUCI(uci)
	if err != nil {
		c.printf("bad move %q: %v\n", uci, err)
		return
	}
	c.report("move", c.s.SubmitMove(ctx, mv))
}

// report is quiet on success; the status line printed by onChange covers it.
func (c *console) report(what string, err error) {
	if err != nil {
		c.printf("%s: %v\n", what, err)
	}
}

// formatMoves numbers the history in pairs: "1. e2e4 e7e5 2. g1f3".
func formatMoves(moves []protocol.Move) string {
	if len(moves) == 0 {
		return "(no moves)"
	}
	var b strings.Builder
	for i, m := range moves {
		if i%2 == 0 {
			if i > 0 {
				b.WriteByte(' ')
			}
			fmt.Fprintf(&b, "%d.", i/2+1)
		}
		b.WriteByte(' ')
		b.WriteString(m.UCI())
	}
	return b.String()
}
