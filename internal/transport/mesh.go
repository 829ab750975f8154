package transport

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Publisher puts one envelope on the room topic.
type Publisher func(ctx context.Context, env Envelope) error

type MeshConfig struct {
	// Interval between heartbeats. Zero disables the heartbeat loop.
	Interval time.Duration
	// Timeout after which a silent peer is reported as left. Zero disables expiry.
	Timeout time.Duration
	Logger  *zap.Logger
	// OnClose runs once after the bye frame is published.
	OnClose func() error
}

// Mesh implements Room on top of any broadcast medium: presence is negotiated with
// hello/welcome/heartbeat/bye envelopes and data is filtered by recipient.
// Transports feed inbound envelopes through Deliver.
type Mesh struct {
	self    string
	publish Publisher
	cfg     MeshConfig
	logger  *zap.Logger

	mu       sync.Mutex
	lastSeen map[string]time.Time
	order    []string
	closed   bool

	cbM      sync.RWMutex
	joinCbs  []func(string)
	leaveCbs []func(string)
	actions  map[string]*meshAction

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewMesh(self string, publish Publisher, cfg MeshConfig) *Mesh {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Mesh{
		self:     self,
		publish:  publish,
		cfg:      cfg,
		logger:   logger,
		lastSeen: make(map[string]time.Time),
		actions:  make(map[string]*meshAction),
		stopCh:   make(chan struct{}),
	}
}

// Start announces this peer and starts the heartbeat loop.
func (m *Mesh) Start(ctx context.Context) error {
	if err := m.Announce(ctx); err != nil {
		return err
	}
	if m.cfg.Interval > 0 {
		m.wg.Add(1)
		go m.heartbeatLoop()
	}
	return nil
}

// Announce publishes a hello. Peers that already know us treat it as a reconnect.
func (m *Mesh) Announce(ctx context.Context) error {
	return m.publish(ctx, Envelope{Kind: KindHello, From: m.self})
}

func (m *Mesh) SelfID() string { return m.self }

func (m *Mesh) OnPeerJoin(cb func(string)) {
	if cb == nil {
		return
	}
	m.cbM.Lock()
	m.joinCbs = append(m.joinCbs, cb)
	m.cbM.Unlock()
	for _, p := range m.Peers() {
		cb(p)
	}
}

func (m *Mesh) OnPeerLeave(cb func(string)) {
	if cb == nil {
		return
	}
	m.cbM.Lock()
	m.leaveCbs = append(m.leaveCbs, cb)
	m.cbM.Unlock()
}

func (m *Mesh) Peers() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.order))
	copy(out, m.order)
	return out
}

func (m *Mesh) MakeAction(name string) Action {
	m.cbM.Lock()
	defer m.cbM.Unlock()
	if a, ok := m.actions[name]; ok {
		return a
	}
	a := &meshAction{mesh: m, name: name}
	m.actions[name] = a
	return a
}

// Leave says goodbye and stops background work. Safe to call twice.
func (m *Mesh) Leave() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	m.stopOnce.Do(func() { close(m.stopCh) })
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	if err := m.publish(ctx, Envelope{Kind: KindBye, From: m.self}); err != nil {
		m.logger.Debug("mesh_bye_failed", zap.String("self", m.self), zap.Error(err))
	}
	cancel()
	m.wg.Wait()
	if m.cfg.OnClose != nil {
		return m.cfg.OnClose()
	}
	return nil
}

func (m *Mesh) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Deliver processes one inbound envelope.
func (m *Mesh) Deliver(env Envelope) {
	if env.From == "" || env.From == m.self || !env.addressedTo(m.self) || m.isClosed() {
		return
	}
	switch env.Kind {
	case KindHello:
		if m.forget(env.From) {
			m.fireLeave(env.From)
		}
		m.touch(env.From)
		m.fireJoin(env.From)
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := m.publish(ctx, Envelope{Kind: KindWelcome, From: m.self, To: []string{env.From}}); err != nil {
			m.logger.Warn("mesh_welcome_failed", zap.String("peer_id", env.From), zap.Error(err))
		}
		cancel()
	case KindWelcome, KindHeartbeat:
		if m.touch(env.From) {
			m.fireJoin(env.From)
		}
	case KindBye:
		if m.forget(env.From) {
			m.fireLeave(env.From)
		}
	case KindData:
		if m.touch(env.From) {
			m.fireJoin(env.From)
		}
		a := m.MakeAction(env.Action).(*meshAction)
		if !a.inbox.Dispatch(env.Data, env.From) {
			m.logger.Warn("mesh_frame_discarded", zap.String("action", env.Action), zap.String("peer_id", env.From))
		}
	}
}

// touch records activity and reports whether the peer is new.
func (m *Mesh) touch(peer string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, known := m.lastSeen[peer]
	m.lastSeen[peer] = time.Now()
	if !known {
		m.order = append(m.order, peer)
	}
	return !known
}

// forget removes a peer and reports whether it was present.
func (m *Mesh) forget(peer string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.lastSeen[peer]; !ok {
		return false
	}
	delete(m.lastSeen, peer)
	for i, p := range m.order {
		if p == peer {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return true
}

func (m *Mesh) fireJoin(peer string) {
	m.logger.Debug("mesh_peer_join", zap.String("self", m.self), zap.String("peer_id", peer))
	m.cbM.RLock()
	cbs := make([]func(string), len(m.joinCbs))
	copy(cbs, m.joinCbs)
	m.cbM.RUnlock()
	for _, cb := range cbs {
		cb(peer)
	}
}

func (m *Mesh) fireLeave(peer string) {
	m.logger.Debug("mesh_peer_leave", zap.String("self", m.self), zap.String("peer_id", peer))
	m.cbM.RLock()
	cbs := make([]func(string), len(m.leaveCbs))
	copy(cbs, m.leaveCbs)
	m.cbM.RUnlock()
	for _, cb := range cbs {
		cb(peer)
	}
}

func (m *Mesh) heartbeatLoop() {
	defer m.wg.Done()
	t := time.NewTicker(m.cfg.Interval)
	defer t.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-t.C:
			ctx, cancel := context.WithTimeout(context.Background(), m.cfg.Interval)
			if err := m.publish(ctx, Envelope{Kind: KindHeartbeat, From: m.self}); err != nil {
				m.logger.Debug("mesh_heartbeat_failed", zap.Error(err))
			}
			cancel()
			m.expire()
		}
	}
}

func (m *Mesh) expire() {
	if m.cfg.Timeout <= 0 {
		return
	}
	cutoff := time.Now().Add(-m.cfg.Timeout)
	var gone []string
	m.mu.Lock()
	for peer, seen := range m.lastSeen {
		if seen.Before(cutoff) {
			gone = append(gone, peer)
		}
	}
	m.mu.Unlock()
	for _, peer := range gone {
		if m.forget(peer) {
			m.logger.Info("mesh_peer_expired", zap.String("peer_id", peer))
			m.fireLeave(peer)
		}
	}
}

type meshAction struct {
	mesh  *Mesh
	name  string
	inbox Inbox
}

func (a *meshAction) Send(ctx context.Context, data []byte, to ...string) error {
	if a.mesh.isClosed() {
		return ErrRoomClosed
	}
	env := Envelope{Kind: KindData, From: a.mesh.self, Action: a.name, Data: data}
	if len(to) > 0 {
		env.To = append([]string(nil), to...)
	}
	return a.mesh.publish(ctx, env)
}

func (a *meshAction) OnReceive(cb func([]byte, string)) { a.inbox.Add(cb) }
