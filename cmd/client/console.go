package main

import (
	"context"
	"fmt"
	"sync"

	"github.com/pion/rtp"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/dkeye/Intercom/internal/call"
	"github.com/dkeye/Intercom/internal/domain"
	"github.com/dkeye/Intercom/internal/media"
	"github.com/dkeye/Intercom/internal/negotiation"
	"github.com/dkeye/Intercom/internal/signaling"
)

// console prints session events and drains remote media so the receive
// buffers never fill. There is no playback.
type console struct {
	ctx context.Context
	g   *errgroup.Group

	mu    sync.Mutex
	stats map[domain.UserID]*media.Stats
}

func newConsole(ctx context.Context, g *errgroup.Group) *console {
	return &console{ctx: ctx, g: g, stats: make(map[domain.UserID]*media.Stats)}
}

func (c *console) IncomingCall(inv call.Invitation) {
	if inv.Group() {
		fmt.Printf("%s calls family %s in %s (accept/reject)\n", inv.Counterpart, inv.FamilyID, inv.RoomID)
		return
	}
	fmt.Printf("%s calls you in %s (accept/reject)\n", inv.Counterpart, inv.RoomID)
}

func (c *console) CallStateChanged(st call.State, inv call.Invitation) {
	fmt.Printf("call %s %s\n", st, inv.Counterpart)
}

func (c *console) CallRejected(by domain.UserID, roomID domain.RoomID, reason string) {
	fmt.Printf("%s rejected in %s: %s\n", by, roomID, reason)
}

func (c *console) RemoteMediaAdded(src negotiation.RemoteMediaSource) {
	fmt.Printf("receiving %s from %s\n", src.Track.Kind(), src.PeerID)
	r, ok := src.Track.(media.RTPReader)
	if !ok {
		return
	}
	c.mu.Lock()
	st, ok := c.stats[src.PeerID]
	if !ok {
		st = media.NewStats()
		c.stats[src.PeerID] = st
	}
	c.mu.Unlock()

	c.g.Go(func() error {
		err := media.Drain(c.ctx, r, func(pkt *rtp.Packet) { st.Observe(pkt) })
		if err != nil && c.ctx.Err() == nil {
			log.Debug().Err(err).Str("module", "client").Str("peer", string(src.PeerID)).Msg("remote track ended")
		}
		return nil
	})
}

func (c *console) RemoteMediaRemoved(peerID domain.UserID) {
	c.mu.Lock()
	st, ok := c.stats[peerID]
	delete(c.stats, peerID)
	c.mu.Unlock()
	if ok {
		fmt.Printf("media from %s closed: %d packets, %d bytes, %d lost\n", peerID, st.Packets(), st.Bytes(), st.Lost())
	}
}

func (c *console) MembersChanged(roomID domain.RoomID, members []domain.User) {
	fmt.Printf("%s: %d members\n", roomID, len(members))
}

func (c *console) ConnectionChanged(st signaling.State, err error) {
	if err != nil {
		fmt.Printf("relay %s: %v\n", st, err)
		return
	}
	fmt.Printf("relay %s\n", st)
}

func (c *console) Error(err error) {
	fmt.Println("error:", err)
}
