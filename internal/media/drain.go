package media

import (
	"context"
	"errors"
	"io"
	"sync/atomic"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
)

// RTPReader is satisfied by *webrtc.TrackRemote.
type RTPReader interface {
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

// Drain reads packets from r until it ends or ctx is cancelled, handing each
// to fn. End of stream is not an error.
func Drain(ctx context.Context, r RTPReader, fn func(*rtp.Packet)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		pkt, _, err := r.ReadRTP()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		fn(pkt)
	}
}

// Stats counts received RTP traffic. Safe for concurrent use.
type Stats struct {
	packets atomic.Int64
	bytes   atomic.Int64
	lost    atomic.Int64
	lastSeq atomic.Int32
}

func NewStats() *Stats {
	s := &Stats{}
	s.lastSeq.Store(-1)
	return s
}

// Observe records one packet. Sequence gaps count as loss.
func (s *Stats) Observe(pkt *rtp.Packet) {
	s.packets.Add(1)
	s.bytes.Add(int64(len(pkt.Payload)))
	prev := s.lastSeq.Swap(int32(pkt.SequenceNumber))
	if prev >= 0 {
		if gap := pkt.SequenceNumber - uint16(prev); gap > 1 && gap < 1<<15 {
			s.lost.Add(int64(gap - 1))
		}
	}
}

func (s *Stats) Packets() int64 { return s.packets.Load() }
func (s *Stats) Bytes() int64   { return s.bytes.Load() }
func (s *Stats) Lost() int64    { return s.lost.Load() }
