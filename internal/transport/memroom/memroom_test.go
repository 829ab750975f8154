package memroom

import (
	"context"
	"errors"
	"testing"

	"github.com/park285/cheese-p2pchess/internal/transport"
)

func TestJoinSendLeave(t *testing.T) {
	hub := NewHub()
	a, err := hub.Join("app", "r1", transport.WithPeerID("a"))
	if err != nil {
		t.Fatalf("Join a: %v", err)
	}
	var joined, left []string
	a.OnPeerJoin(func(p string) { joined = append(joined, p) })
	a.OnPeerLeave(func(p string) { left = append(left, p) })

	b, err := hub.Join("app", "r1", transport.WithPeerID("b"))
	if err != nil {
		t.Fatalf("Join b: %v", err)
	}
	var bSaw []string
	b.OnPeerJoin(func(p string) { bSaw = append(bSaw, p) })
	if len(joined) != 1 || joined[0] != "b" || len(bSaw) != 1 || bSaw[0] != "a" {
		t.Fatalf("presence mismatch: a saw %v, b saw %v", joined, bSaw)
	}

	var got string
	b.MakeAction("gameData").OnReceive(func(d []byte, from string) { got = from + ":" + string(d) })
	if err := a.MakeAction("gameData").Send(context.Background(), []byte("ping")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got != "a:ping" {
		t.Fatalf("unexpected delivery %q", got)
	}

	b.Drop()
	if len(left) != 1 || left[0] != "b" {
		t.Fatalf("expected leave of b, got %v", left)
	}
	if err := a.MakeAction("gameData").Send(context.Background(), []byte("x")); !errors.Is(err, transport.ErrNoPeers) {
		t.Fatalf("expected ErrNoPeers, got %v", err)
	}
}

func TestRoomsAreIsolated(t *testing.T) {
	hub := NewHub()
	a, _ := hub.Join("app", "r1")
	b, _ := hub.Join("app", "r2")
	if len(a.Peers()) != 0 || len(b.Peers()) != 0 {
		t.Fatalf("rooms leaked peers")
	}
	if _, err := hub.Join("app", " "); !errors.Is(err, transport.ErrEmptyRoomID) {
		t.Fatalf("expected ErrEmptyRoomID, got %v", err)
	}
}

func TestFailJoins(t *testing.T) {
	hub := NewHub()
	boom := errors.New("boom")
	hub.FailJoins(boom)
	if _, err := hub.JoinRoom(context.Background(), "app", "r1"); !errors.Is(err, boom) {
		t.Fatalf("expected injected failure, got %v", err)
	}
}

func TestEarlyFramesReplayed(t *testing.T) {
	hub := NewHub()
	a, _ := hub.Join("app", "room")
	b, _ := hub.Join("app", "room")
	if err := a.MakeAction("gameData").Send(context.Background(), []byte("hello"), b.SelfID()); err != nil {
		t.Fatalf("Send: %v", err)
	}
	var got string
	b.MakeAction("gameData").OnReceive(func(d []byte, from string) { got = from + ":" + string(d) })
	if got != a.SelfID()+":hello" {
		t.Fatalf("got %q", got)
	}
}

func TestCallbacksSnapshotBeforeFiring(t *testing.T) {
	hub := NewHub()
	a, _ := hub.Join("app", "r1", transport.WithPeerID("a"))
	var first, late []string
	a.OnPeerLeave(func(p string) {
		first = append(first, p)
		if len(first) == 1 {
			a.OnPeerLeave(func(p string) { late = append(late, p) })
		}
	})
	b, _ := hub.Join("app", "r1", transport.WithPeerID("b"))
	c, _ := hub.Join("app", "r1", transport.WithPeerID("c"))

	b.Drop()
	if len(first) != 1 || len(late) != 0 {
		t.Fatalf("after first leave: first=%v late=%v", first, late)
	}
	c.Drop()
	if len(first) != 2 || len(late) != 1 || late[0] != "c" {
		t.Fatalf("after second leave: first=%v late=%v", first, late)
	}
}
