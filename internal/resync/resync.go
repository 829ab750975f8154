// Package resync repairs a diverged or reconnected peer from the host's state.
//
// The Coordinator numbers every resync attempt. The two cosmetic delays of a successful
// attempt are tied to its number, so a newer attempt silently invalidates older callbacks.
package resync

import (
	"errors"
	"fmt"
	"time"

	"github.com/park285/cheese-p2pchess/internal/clock"
	"github.com/park285/cheese-p2pchess/internal/position"
	"github.com/park285/cheese-p2pchess/internal/protocol"
	"go.uber.org/zap"
)

var (
	ErrNotHostOrigin = errors.New("resync: sync not from host")
	ErrInconsistent  = errors.New("resync: history does not reproduce position")
)

type Config struct {
	ShowDelay   time.Duration
	SettleDelay time.Duration
	Scheduler   clock.Scheduler
	Logger      *zap.Logger
	// Post runs f on the owner's executor. Nil runs f inline.
	Post func(f func())
}

type Coordinator struct {
	cfg     Config
	logger  *zap.Logger
	attempt uint64
	timers  []clock.Timer
}

func New(cfg Config) *Coordinator {
	if cfg.Scheduler == nil {
		cfg.Scheduler = clock.Real()
	}
	if cfg.ShowDelay <= 0 {
		cfg.ShowDelay = 500 * time.Millisecond
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = 1500 * time.Millisecond
	}
	if cfg.Post == nil {
		cfg.Post = func(f func()) { f() }
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{cfg: cfg, logger: logger}
}

// Begin starts a new attempt and cancels the delays of every earlier one.
func (c *Coordinator) Begin() uint64 {
	c.Cancel()
	c.logger.Debug("resync_attempt_begin", zap.Uint64("attempt", c.attempt))
	return c.attempt
}

// Cancel invalidates the current attempt without starting another.
func (c *Coordinator) Cancel() {
	for _, t := range c.timers {
		t.Stop()
	}
	c.timers = nil
	c.attempt++
}

func (c *Coordinator) Attempt() uint64 { return c.attempt }

// Current reports whether id is still the latest attempt.
func (c *Coordinator) Current(id uint64) bool { return id == c.attempt }

// Pending reports whether a delay of the current attempt has yet to fire.
func (c *Coordinator) Pending() bool { return len(c.timers) > 0 }

// Settle runs onSucceeded after ShowDelay and onSettled after a further SettleDelay,
// unless attempt id has been superseded by then.
func (c *Coordinator) Settle(id uint64, onSucceeded, onSettled func()) {
	if !c.Current(id) {
		return
	}
	c.schedule(id, c.cfg.ShowDelay, func() {
		if onSucceeded != nil {
			onSucceeded()
		}
		c.schedule(id, c.cfg.SettleDelay, func() {
			if onSettled != nil {
				onSettled()
			}
		})
	})
}

func (c *Coordinator) schedule(id uint64, d time.Duration, f func()) {
	var t clock.Timer
	t = c.cfg.Scheduler.AfterFunc(d, func() {
		c.cfg.Post(func() {
			if !c.Current(id) {
				c.logger.Debug("resync_stale_callback", zap.Uint64("attempt", id), zap.Uint64("current", c.attempt))
				return
			}
			c.forget(t)
			f()
		})
	})
	c.timers = append(c.timers, t)
}

func (c *Coordinator) forget(t clock.Timer) {
	for i, p := range c.timers {
		if p == t {
			c.timers = append(c.timers[:i], c.timers[i+1:]...)
			return
		}
	}
}

// BuildSync describes pos as an authoritative host sync.
func BuildSync(pos position.Position, status protocol.GameStatus, whiteID, blackID string) protocol.SyncGameState {
	return protocol.SyncGameState{
		FEN:             pos.FEN(),
		Turn:            pos.Turn(),
		GameStatus:      status,
		LastMove:        pos.LastMove(),
		MoveHistory:     pos.Moves(),
		PlayerWhiteID:   whiteID,
		PlayerBlackID:   blackID,
		IsHostInitiated: true,
	}
}

// Validate checks that p may be adopted by a receiver and rebuilds its position by replaying
// the history from startFEN. A host never adopts a sync, whatever it claims.
func Validate(p protocol.SyncGameState, receiverIsHost bool, startFEN string) (position.Position, error) {
	if receiverIsHost {
		return position.Position{}, fmt.Errorf("%w: host received sync (isHostInitiated=%t)", ErrNotHostOrigin, p.IsHostInitiated)
	}
	if !p.IsHostInitiated {
		return position.Position{}, ErrNotHostOrigin
	}
	pos, err := position.Replay(startFEN, p.MoveHistory)
	if err != nil {
		return position.Position{}, fmt.Errorf("%w: %v", ErrInconsistent, err)
	}
	if !position.SameBoard(pos.FEN(), p.FEN) {
		return position.Position{}, fmt.Errorf("%w: replay gives %q, payload has %q", ErrInconsistent, pos.FEN(), p.FEN)
	}
	if pos.Turn() != p.Turn {
		return position.Position{}, fmt.Errorf("%w: turn %s vs %s", ErrInconsistent, pos.Turn(), p.Turn)
	}
	return pos, nil
}
