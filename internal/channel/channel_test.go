package channel

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/park285/cheese-p2pchess/internal/clock"
	"github.com/park285/cheese-p2pchess/internal/protocol"
	"github.com/park285/cheese-p2pchess/internal/transport"
	"github.com/park285/cheese-p2pchess/internal/transport/memroom"
)

type event struct {
	kind   string
	peer   string
	rejoin bool
	msg    protocol.Message
	err    error
}

type recorder struct{ events []event }

func (r *recorder) PeerJoined(p string, rejoin bool) {
	r.events = append(r.events, event{kind: "join", peer: p, rejoin: rejoin})
}
func (r *recorder) PeerLeft(p string)     { r.events = append(r.events, event{kind: "leave", peer: p}) }
func (r *recorder) OpponentGone(p string) { r.events = append(r.events, event{kind: "gone", peer: p}) }
func (r *recorder) MessageReceived(_ context.Context, m protocol.Message, from string) {
	r.events = append(r.events, event{kind: "msg", peer: from, msg: m})
}
func (r *recorder) MessageDropped(from string, err error) {
	r.events = append(r.events, event{kind: "drop", peer: from, err: err})
}

func (r *recorder) last() event {
	if len(r.events) == 0 {
		return event{}
	}
	return r.events[len(r.events)-1]
}

func (r *recorder) count(kind string) int {
	n := 0
	for _, e := range r.events {
		if e.kind == kind {
			n++
		}
	}
	return n
}

const wait = 5 * time.Second

func newChannel(t *testing.T, hub *memroom.Hub, clk *clock.Manual) (*Channel, *recorder) {
	t.Helper()
	rec := &recorder{}
	return New(hub, rec, Config{AppID: "test", ReconnectWait: wait, Scheduler: clk}), rec
}

func TestNewRoomIDFormat(t *testing.T) {
	re := regexp.MustCompile(`^[a-z0-9]{7}$`)
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		id, err := NewRoomID()
		if err != nil {
			t.Fatalf("NewRoomID: %v", err)
		}
		if !re.MatchString(id) {
			t.Fatalf("bad id %q", id)
		}
		seen[id] = true
	}
	if len(seen) < 45 {
		t.Fatalf("ids not random enough: %d distinct", len(seen))
	}
}

func TestCreateAndJoin(t *testing.T) {
	hub := memroom.NewHub()
	clk := clock.NewManual(time.Unix(0, 0))
	host, hostRec := newChannel(t, hub, clk)
	guest, guestRec := newChannel(t, hub, clk)
	ctx := context.Background()

	id, err := host.CreateRoom(ctx)
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if !host.IsHost() || host.GameID() != id {
		t.Fatalf("host state: host=%v id=%q", host.IsHost(), host.GameID())
	}
	if _, err := host.CreateRoom(ctx); !errors.Is(err, ErrAlreadyInRoom) {
		t.Fatalf("second CreateRoom: %v", err)
	}

	if err := guest.JoinRoomByID(ctx, "  "+id+" "); err != nil {
		t.Fatalf("JoinRoomByID: %v", err)
	}
	if guest.IsHost() {
		t.Fatalf("guest marked host")
	}
	if e := hostRec.last(); e.kind != "join" || e.peer != guest.SelfID() || e.rejoin {
		t.Fatalf("host event: %+v", e)
	}
	if e := guestRec.last(); e.kind != "join" || e.peer != host.SelfID() || e.rejoin {
		t.Fatalf("guest event: %+v", e)
	}
	if host.CurrentOpponent() != guest.SelfID() || guest.CurrentOpponent() != host.SelfID() {
		t.Fatalf("opponents not tracked")
	}

	if err := guest.Send(ctx, protocol.NewRequestGameState()); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if e := hostRec.last(); e.kind != "msg" || e.msg.Type != protocol.TypeRequestGameState || e.peer != guest.SelfID() {
		t.Fatalf("host got %+v", e)
	}
}

func TestJoinRoomByIDEmpty(t *testing.T) {
	c, _ := newChannel(t, memroom.NewHub(), clock.NewManual(time.Unix(0, 0)))
	if err := c.JoinRoomByID(context.Background(), "   "); !errors.Is(err, ErrEmptyGameID) {
		t.Fatalf("got %v", err)
	}
	if c.InRoom() {
		t.Fatalf("joined on empty id")
	}
}

func TestJoinFailure(t *testing.T) {
	hub := memroom.NewHub()
	boom := errors.New("boom")
	hub.FailJoins(boom)
	c, _ := newChannel(t, hub, clock.NewManual(time.Unix(0, 0)))
	if _, err := c.CreateRoom(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("got %v", err)
	}
	if c.InRoom() {
		t.Fatalf("room kept after failure")
	}
}

func TestSendWithoutRoomOrOpponent(t *testing.T) {
	c, _ := newChannel(t, memroom.NewHub(), clock.NewManual(time.Unix(0, 0)))
	ctx := context.Background()
	if err := c.Send(ctx, protocol.NewDrawOffer()); !errors.Is(err, ErrNoRoom) {
		t.Fatalf("no room: %v", err)
	}
	if _, err := c.CreateRoom(ctx); err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if err := c.Send(ctx, protocol.NewDrawOffer()); !errors.Is(err, ErrNoOpponent) {
		t.Fatalf("alone: %v", err)
	}
}

func TestSendFallsBackToFirstPeer(t *testing.T) {
	hub := memroom.NewHub()
	clk := clock.NewManual(time.Unix(0, 0))
	host, _ := newChannel(t, hub, clk)
	ctx := context.Background()
	id, err := host.CreateRoom(ctx)
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	// A raw member joins before the channel sees it as an opponent.
	var got []string
	peer, err := hub.Join("test", id)
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	peer.MakeAction(ActionName).OnReceive(func(data []byte, from string) { got = append(got, from) })
	host.currentOpponent = ""

	if err := host.Send(ctx, protocol.NewDrawOffer()); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(got) != 1 || got[0] != host.SelfID() {
		t.Fatalf("peer received %v", got)
	}
}

func TestOpponentLeaveStartsReconnectWindow(t *testing.T) {
	hub := memroom.NewHub()
	clk := clock.NewManual(time.Unix(0, 0))
	host, hostRec := newChannel(t, hub, clk)
	ctx := context.Background()
	id, _ := host.CreateRoom(ctx)
	guest, err := hub.Join("test", id)
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	guest.Drop()

	if e := hostRec.last(); e.kind != "leave" || e.peer != guest.SelfID() {
		t.Fatalf("leave event: %+v", e)
	}
	if host.CurrentOpponent() != "" || host.LastKnownOpponent() != guest.SelfID() {
		t.Fatalf("tracking after leave: current=%q last=%q", host.CurrentOpponent(), host.LastKnownOpponent())
	}
	if !host.ReconnectPending() {
		t.Fatalf("no reconnect window")
	}
	clk.Advance(wait - time.Millisecond)
	if hostRec.count("gone") != 0 {
		t.Fatalf("gone fired early")
	}
	clk.Advance(time.Millisecond)
	if e := hostRec.last(); e.kind != "gone" || e.peer != guest.SelfID() {
		t.Fatalf("gone event: %+v", e)
	}
	if host.ReconnectPending() {
		t.Fatalf("window still pending")
	}
}

func TestRejoinCancelsReconnectWindow(t *testing.T) {
	hub := memroom.NewHub()
	clk := clock.NewManual(time.Unix(0, 0))
	host, hostRec := newChannel(t, hub, clk)
	ctx := context.Background()
	id, _ := host.CreateRoom(ctx)
	guest, _ := hub.Join("test", id)
	guestID := guest.SelfID()
	guest.Drop()

	if _, err := hub.Join("test", id, transport.WithPeerID(guestID)); err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	if e := hostRec.last(); e.kind != "join" || !e.rejoin || e.peer != guestID {
		t.Fatalf("rejoin event: %+v", e)
	}
	if host.ReconnectPending() || clk.Pending() != 0 {
		t.Fatalf("window not cancelled")
	}
	clk.Advance(2 * wait)
	if hostRec.count("gone") != 0 {
		t.Fatalf("gone fired after rejoin")
	}
}

func TestNewPeerReplacesOpponent(t *testing.T) {
	hub := memroom.NewHub()
	clk := clock.NewManual(time.Unix(0, 0))
	host, hostRec := newChannel(t, hub, clk)
	ctx := context.Background()
	id, _ := host.CreateRoom(ctx)
	first, _ := hub.Join("test", id)
	first.Drop()
	second, _ := hub.Join("test", id)

	if e := hostRec.last(); e.kind != "join" || e.rejoin || e.peer != second.SelfID() {
		t.Fatalf("join event: %+v", e)
	}
	if host.CurrentOpponent() != second.SelfID() {
		t.Fatalf("opponent %q", host.CurrentOpponent())
	}
	clk.Advance(2 * wait)
	if hostRec.count("gone") != 0 {
		t.Fatalf("gone fired for replaced opponent")
	}
}

func TestStrangerLeaveIgnored(t *testing.T) {
	hub := memroom.NewHub()
	clk := clock.NewManual(time.Unix(0, 0))
	host, hostRec := newChannel(t, hub, clk)
	ctx := context.Background()
	id, _ := host.CreateRoom(ctx)
	a, _ := hub.Join("test", id)
	b, _ := hub.Join("test", id)
	_ = b
	// b is now the tracked opponent; a leaving is not ours to wait for.
	before := len(hostRec.events)
	a.Drop()
	if len(hostRec.events) != before {
		t.Fatalf("unexpected events: %+v", hostRec.events[before:])
	}
	if host.ReconnectPending() {
		t.Fatalf("window started for stranger")
	}
}

func TestDataUpdatesOpponentAndDropsGarbage(t *testing.T) {
	hub := memroom.NewHub()
	clk := clock.NewManual(time.Unix(0, 0))
	host, hostRec := newChannel(t, hub, clk)
	ctx := context.Background()
	id, _ := host.CreateRoom(ctx)
	a, _ := hub.Join("test", id)
	b, _ := hub.Join("test", id)
	if host.CurrentOpponent() != b.SelfID() {
		t.Fatalf("expected b tracked")
	}

	raw, err := protocol.Encode(protocol.NewDrawOffer())
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if err := a.MakeAction(ActionName).Send(ctx, raw, host.SelfID()); err != nil {
		t.Fatalf("send: %v", err)
	}
	if host.CurrentOpponent() != a.SelfID() {
		t.Fatalf("sender not tracked: %q", host.CurrentOpponent())
	}

	if err := a.MakeAction(ActionName).Send(ctx, []byte(`{"type":"NOPE"}`), host.SelfID()); err != nil {
		t.Fatalf("send: %v", err)
	}
	e := hostRec.last()
	if e.kind != "drop" || !errors.Is(e.err, protocol.ErrUnknownType) {
		t.Fatalf("drop event: %+v", e)
	}
}

func TestLeaveResetsAndIgnoresLateCallbacks(t *testing.T) {
	hub := memroom.NewHub()
	clk := clock.NewManual(time.Unix(0, 0))
	host, hostRec := newChannel(t, hub, clk)
	ctx := context.Background()
	id, _ := host.CreateRoom(ctx)
	guest, _ := hub.Join("test", id)
	guest.Drop()
	if err := host.Leave(); err != nil {
		t.Fatalf("Leave: %v", err)
	}
	if host.InRoom() || host.GameID() != "" || host.LastKnownOpponent() != "" {
		t.Fatalf("state not reset")
	}
	before := len(hostRec.events)
	clk.Advance(2 * wait)
	if len(hostRec.events) != before {
		t.Fatalf("late events: %+v", hostRec.events[before:])
	}
	if err := host.Leave(); err != nil {
		t.Fatalf("second Leave: %v", err)
	}
}

func TestRejoinKeepsIdentity(t *testing.T) {
	hub := memroom.NewHub()
	clk := clock.NewManual(time.Unix(0, 0))
	host, _ := newChannel(t, hub, clk)
	guest, guestRec := newChannel(t, hub, clk)
	ctx := context.Background()
	id, _ := host.CreateRoom(ctx)
	if err := guest.JoinRoomByID(ctx, id); err != nil {
		t.Fatalf("join: %v", err)
	}
	self := guest.SelfID()
	if err := guest.Rejoin(ctx); err != nil {
		t.Fatalf("Rejoin: %v", err)
	}
	if guest.SelfID() != self || guest.GameID() != id {
		t.Fatalf("identity changed: %q %q", guest.SelfID(), guest.GameID())
	}
	if e := guestRec.last(); e.kind != "join" || !e.rejoin || e.peer != host.SelfID() {
		t.Fatalf("guest rejoin event: %+v", e)
	}
	if host.CurrentOpponent() != self {
		t.Fatalf("host lost track of guest")
	}
}

func TestRejoinWithOpponentAbsentStartsWindow(t *testing.T) {
	hub := memroom.NewHub()
	clk := clock.NewManual(time.Unix(0, 0))
	host, _ := newChannel(t, hub, clk)
	guest, guestRec := newChannel(t, hub, clk)
	ctx := context.Background()
	id, _ := host.CreateRoom(ctx)
	if err := guest.JoinRoomByID(ctx, id); err != nil {
		t.Fatalf("join: %v", err)
	}
	hostID := host.SelfID()
	if err := host.Leave(); err != nil {
		t.Fatalf("host Leave: %v", err)
	}
	clk.Advance(wait)
	if guestRec.count("gone") != 1 {
		t.Fatalf("first window: %+v", guestRec.events)
	}

	if err := guest.Rejoin(ctx); err != nil {
		t.Fatalf("Rejoin: %v", err)
	}
	if !guest.ReconnectPending() || guest.LastKnownOpponent() != hostID {
		t.Fatalf("no window after rejoin into empty room (last=%q)", guest.LastKnownOpponent())
	}
	clk.Advance(wait)
	if e := guestRec.last(); e.kind != "gone" || e.peer != hostID || guestRec.count("gone") != 2 {
		t.Fatalf("window after rejoin did not end: %+v", guestRec.events)
	}
	if clk.Pending() != 0 {
		t.Fatalf("timers left: %d", clk.Pending())
	}
}

func TestRejoinWithOpponentPresentArmsNothing(t *testing.T) {
	hub := memroom.NewHub()
	clk := clock.NewManual(time.Unix(0, 0))
	host, _ := newChannel(t, hub, clk)
	guest, guestRec := newChannel(t, hub, clk)
	ctx := context.Background()
	id, _ := host.CreateRoom(ctx)
	_ = guest.JoinRoomByID(ctx, id)
	if err := guest.Rejoin(ctx); err != nil {
		t.Fatalf("Rejoin: %v", err)
	}
	if guest.ReconnectPending() {
		t.Fatalf("window armed with the host present")
	}
	clk.Advance(2 * wait)
	if guestRec.count("gone") != 0 {
		t.Fatalf("gone fired: %+v", guestRec.events)
	}
}

func TestFormerOpponentLeaveIgnoredWhileAnotherIsActive(t *testing.T) {
	hub := memroom.NewHub()
	clk := clock.NewManual(time.Unix(0, 0))
	host, hostRec := newChannel(t, hub, clk)
	ctx := context.Background()
	id, _ := host.CreateRoom(ctx)
	a, _ := hub.Join("test", id)
	b, _ := hub.Join("test", id)
	// a speaks after b joined, so a is tracked while b stays the last joined opponent.
	data, _ := protocol.Encode(protocol.NewDrawOffer())
	if err := a.MakeAction(ActionName).Send(ctx, data, host.SelfID()); err != nil {
		t.Fatalf("send: %v", err)
	}
	if host.CurrentOpponent() != a.SelfID() || host.LastKnownOpponent() != b.SelfID() {
		t.Fatalf("tracking: current=%q last=%q", host.CurrentOpponent(), host.LastKnownOpponent())
	}
	before := len(hostRec.events)
	b.Drop()
	if len(hostRec.events) != before || host.ReconnectPending() {
		t.Fatalf("leave of former opponent reported: %+v", hostRec.events[before:])
	}
	if host.CurrentOpponent() != a.SelfID() {
		t.Fatalf("current opponent lost: %q", host.CurrentOpponent())
	}
}
