// Package memroom is an in-process transport. Delivery is synchronous on the sender's goroutine.
package memroom

import (
	"context"
	"strings"
	"sync"

	"github.com/park285/cheese-p2pchess/internal/transport"
)

// Hub holds every room created through it.
type Hub struct {
	mu    sync.Mutex
	rooms map[string]*room
	fail  error
}

func NewHub() *Hub { return &Hub{rooms: make(map[string]*room)} }

// FailJoins makes subsequent JoinRoom calls return err. Nil restores normal behaviour.
func (h *Hub) FailJoins(err error) {
	h.mu.Lock()
	h.fail = err
	h.mu.Unlock()
}

type room struct {
	mu      sync.Mutex
	members []*Member
}

func (h *Hub) JoinRoom(_ context.Context, appID, roomID string, opts ...transport.JoinOption) (transport.Room, error) {
	m, err := h.Join(appID, roomID, opts...)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// Join is JoinRoom with the concrete member type, for tests that inject faults.
func (h *Hub) Join(appID, roomID string, opts ...transport.JoinOption) (*Member, error) {
	if strings.TrimSpace(roomID) == "" {
		return nil, transport.ErrEmptyRoomID
	}
	h.mu.Lock()
	if h.fail != nil {
		err := h.fail
		h.mu.Unlock()
		return nil, err
	}
	key := transport.Topic(appID, roomID)
	r, ok := h.rooms[key]
	if !ok {
		r = &room{}
		h.rooms[key] = r
	}
	h.mu.Unlock()

	o := transport.ResolveJoinOptions(opts...)
	m := &Member{id: o.PeerID, room: r, actions: make(map[string]*action)}

	r.mu.Lock()
	others := append([]*Member(nil), r.members...)
	r.members = append(r.members, m)
	r.mu.Unlock()

	for _, other := range others {
		other.fireJoin(m.id)
	}
	return m, nil
}

// Member is one peer's membership in a hub room.
type Member struct {
	id   string
	room *room

	mu       sync.RWMutex
	closed   bool
	joinCbs  []func(string)
	leaveCbs []func(string)
	actions  map[string]*action
}

func (m *Member) SelfID() string { return m.id }

func (m *Member) OnPeerJoin(cb func(string)) {
	if cb == nil {
		return
	}
	m.mu.Lock()
	m.joinCbs = append(m.joinCbs, cb)
	m.mu.Unlock()
	for _, p := range m.Peers() {
		cb(p)
	}
}

func (m *Member) OnPeerLeave(cb func(string)) {
	if cb == nil {
		return
	}
	m.mu.Lock()
	m.leaveCbs = append(m.leaveCbs, cb)
	m.mu.Unlock()
}

func (m *Member) Peers() []string {
	m.room.mu.Lock()
	defer m.room.mu.Unlock()
	var out []string
	for _, o := range m.room.members {
		if o != m {
			out = append(out, o.id)
		}
	}
	return out
}

func (m *Member) MakeAction(name string) transport.Action {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.actions[name]; ok {
		return a
	}
	a := &action{member: m, name: name}
	m.actions[name] = a
	return a
}

// Leave removes the member and notifies the others.
func (m *Member) Leave() error {
	m.Drop()
	return nil
}

// Drop removes the member as an abrupt disconnect would. The remaining members see a leave.
func (m *Member) Drop() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.mu.Unlock()

	m.room.mu.Lock()
	for i, o := range m.room.members {
		if o == m {
			m.room.members = append(m.room.members[:i], m.room.members[i+1:]...)
			break
		}
	}
	others := append([]*Member(nil), m.room.members...)
	m.room.mu.Unlock()
	for _, o := range others {
		o.fireLeave(m.id)
	}
}

func (m *Member) isClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}

func (m *Member) fireJoin(peer string) {
	m.mu.RLock()
	cbs := make([]func(string), len(m.joinCbs))
	copy(cbs, m.joinCbs)
	m.mu.RUnlock()
	for _, cb := range cbs {
		cb(peer)
	}
}

func (m *Member) fireLeave(peer string) {
	m.mu.RLock()
	cbs := make([]func(string), len(m.leaveCbs))
	copy(cbs, m.leaveCbs)
	m.mu.RUnlock()
	for _, cb := range cbs {
		cb(peer)
	}
}

type action struct {
	member *Member
	name   string
	inbox  transport.Inbox
}

func (a *action) Send(_ context.Context, data []byte, to ...string) error {
	if a.member.isClosed() {
		return transport.ErrRoomClosed
	}
	targets := make(map[string]bool, len(to))
	for _, t := range to {
		targets[t] = true
	}
	r := a.member.room
	r.mu.Lock()
	members := append([]*Member(nil), r.members...)
	r.mu.Unlock()

	delivered := 0
	for _, o := range members {
		if o == a.member || (len(targets) > 0 && !targets[o.id]) {
			continue
		}
		delivered++
		peerAction := o.MakeAction(a.name).(*action)
		peerAction.inbox.Dispatch(append([]byte(nil), data...), a.member.id)
	}
	if delivered == 0 && len(to) == 0 {
		return transport.ErrNoPeers
	}
	return nil
}

// OnReceive attaches cb. Frames sent before the first receiver was attached are replayed to it.
func (a *action) OnReceive(cb func([]byte, string)) { a.inbox.Add(cb) }
