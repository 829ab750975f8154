package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/park285/cheese-p2pchess/internal/builder"
	"github.com/park285/cheese-p2pchess/internal/channel"
	appcfg "github.com/park285/cheese-p2pchess/internal/config"
	"github.com/park285/cheese-p2pchess/internal/obslog"
	"github.com/park285/cheese-p2pchess/internal/protocol"
	"github.com/park285/cheese-p2pchess/internal/transport"
)

func main() {
	if len(os.Args) < 2 {
		log.Fatal("usage: roomcheck <room-id> [window, e.g. 30s]")
	}
	roomID := channel.NormalizeRoomID(os.Args[1])
	window := 10 * time.Second
	if len(os.Args) >= 3 {
		d, err := time.ParseDuration(os.Args[2])
		if err != nil || d <= 0 {
			log.Fatalf("bad window %q", os.Args[2])
		}
		window = d
	}

	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.Init(obslog.Options{Level: cfg.Log.Level, Format: cfg.Log.Format, ToConsole: true}); err != nil {
		log.Fatalf("logger init error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	joiner, closeJoiner, err := builder.NewJoiner(ctx, cfg, obslog.L())
	if err != nil {
		cancel()
		log.Fatalf("transport error: %v", err)
	}
	defer func() { _ = closeJoiner() }()

	room, err := joiner.JoinRoom(ctx, cfg.AppID, roomID)
	cancel()
	if err != nil {
		log.Fatalf("join error: %v", err)
	}
	log.Printf("joined topic=%s as %s via %s", transport.Topic(cfg.AppID, roomID), room.SelfID(), cfg.Transport)

	room.OnPeerJoin(func(p string) { log.Printf("peer joined: %s", p) })
	room.OnPeerLeave(func(p string) { log.Printf("peer left: %s", p) })
	room.MakeAction(channel.ActionName).OnReceive(func(data []byte, from string) {
		fmt.Println(describe(data, from))
	})

	// Observe for a short window
	t := time.NewTimer(window)
	<-t.C
	log.Printf("peers at exit: [%s]", strings.Join(room.Peers(), ", "))
	if err := room.Leave(); err != nil {
		log.Printf("leave error: %v", err)
	}
}

func describe(data []byte, from string) string {
	msg, err := protocol.Decode(data)
	if err != nil {
		return fmt.Sprintf("frame from=%s undecodable (%v): %s", from, err, data)
	}
	return fmt.Sprintf("frame from=%s type=%s body=%s", from, msg.Type, data)
}
