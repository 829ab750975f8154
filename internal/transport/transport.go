// Package transport defines the room abstraction the game runs on: a named room, peer presence
// callbacks, and named actions that carry opaque bytes between peers.
package transport

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
)

var (
	ErrRoomClosed  = errors.New("transport: room closed")
	ErrEmptyRoomID = errors.New("transport: empty room id")
	ErrNoPeers     = errors.New("transport: no peers in room")
)

// Joiner enters rooms.
type Joiner interface {
	JoinRoom(ctx context.Context, appID, roomID string, opts ...JoinOption) (Room, error)
}

// Room is one membership in a room.
//
// OnPeerJoin callbacks are invoked for every peer already present when the callback is
// registered and for each later join. Callbacks may run on transport goroutines.
type Room interface {
	SelfID() string
	OnPeerJoin(func(peerID string))
	OnPeerLeave(func(peerID string))
	MakeAction(name string) Action
	Peers() []string
	Leave() error
}

// Action is a named sub-channel. Send with no targets goes to every peer.
type Action interface {
	Send(ctx context.Context, data []byte, to ...string) error
	OnReceive(func(data []byte, from string))
}

type JoinOptions struct {
	PeerID string
}

type JoinOption func(*JoinOptions)

// WithPeerID re-enters a room under a previous identity.
func WithPeerID(id string) JoinOption {
	return func(o *JoinOptions) { o.PeerID = strings.TrimSpace(id) }
}

// ResolveJoinOptions applies opts and assigns a fresh peer id when none was requested.
func ResolveJoinOptions(opts ...JoinOption) JoinOptions {
	var o JoinOptions
	for _, fn := range opts {
		if fn != nil {
			fn(&o)
		}
	}
	if o.PeerID == "" {
		o.PeerID = uuid.NewString()
	}
	return o
}

// Topic is the shared channel name for a room on networked transports.
func Topic(appID, roomID string) string {
	return "p2pchess:" + appID + ":" + roomID
}
