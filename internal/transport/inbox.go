package transport

import "sync"

// maxHeld bounds the frames kept for an action nobody listens to yet.
const maxHeld = 64

type heldFrame struct {
	data []byte
	from string
}

// Inbox fans inbound frames out to receivers. Frames that arrive before the first receiver
// is attached are held and replayed to it, so a peer that answers a join immediately is not lost.
type Inbox struct {
	mu   sync.Mutex
	cbs  []func([]byte, string)
	held []heldFrame
}

// Add attaches cb and hands it any held frames.
func (in *Inbox) Add(cb func([]byte, string)) {
	if cb == nil {
		return
	}
	in.mu.Lock()
	in.cbs = append(in.cbs, cb)
	held := in.held
	in.held = nil
	in.mu.Unlock()
	for _, f := range held {
		cb(f.data, f.from)
	}
}

// Dispatch delivers data to every receiver, or holds it when there is none.
// It reports false when the frame was discarded because the hold buffer is full.
func (in *Inbox) Dispatch(data []byte, from string) bool {
	in.mu.Lock()
	if len(in.cbs) == 0 {
		defer in.mu.Unlock()
		if len(in.held) >= maxHeld {
			return false
		}
		in.held = append(in.held, heldFrame{data: data, from: from})
		return true
	}
	cbs := make([]func([]byte, string), len(in.cbs))
	copy(cbs, in.cbs)
	in.mu.Unlock()
	for _, cb := range cbs {
		cb(data, from)
	}
	return true
}
