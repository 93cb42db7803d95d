package session

import (
	"fmt"

	"github.com/slok/microbox/internal/protocol"
)

// DefaultMaxPending is the number of out of order chunks a Reassembler holds.
const DefaultMaxPending = 256

// Reassembler restores the order of sequenced copy chunks. Chunk sequence
// numbers start at 0 and the stream ends with an empty chunk whose sequence
// is the number of data chunks.
type Reassembler struct {
	next       uint64
	end        uint64
	ended      bool
	pending    map[uint64][]byte
	maxPending int
}

// NewReassembler returns a new Reassembler holding at most maxPending out of order chunks.
func NewReassembler(maxPending int) *Reassembler {
	if maxPending <= 0 {
		maxPending = DefaultMaxPending
	}
	return &Reassembler{
		pending:    map[uint64][]byte{},
		maxPending: maxPending,
	}
}

// Add adds a chunk and returns the data that is now ready to be delivered in order.
func (r *Reassembler) Add(seq uint64, data []byte) ([][]byte, error) {
	if seq < r.next {
		return nil, fmt.Errorf("chunk %d already delivered: %w", seq, protocol.ErrProtocol)
	}
	if _, ok := r.pending[seq]; ok {
		return nil, fmt.Errorf("duplicated chunk %d: %w", seq, protocol.ErrProtocol)
	}

	if len(data) == 0 {
		if r.ended {
			return nil, fmt.Errorf("duplicated end of stream: %w", protocol.ErrProtocol)
		}
		r.ended = true
		r.end = seq
		if len(r.pending) > 0 && r.maxPendingSeq() >= seq {
			return nil, fmt.Errorf("end of stream %d before chunk %d: %w", seq, r.maxPendingSeq(), protocol.ErrProtocol)
		}
		return nil, nil
	}

	if r.ended && seq >= r.end {
		return nil, fmt.Errorf("chunk %d after end of stream %d: %w", seq, r.end, protocol.ErrProtocol)
	}

	if seq != r.next {
		if len(r.pending) >= r.maxPending {
			return nil, fmt.Errorf("too many out of order chunks: %w", protocol.ErrProtocol)
		}
		r.pending[seq] = data
		return nil, nil
	}

	ready := [][]byte{data}
	r.next++
	for {
		d, ok := r.pending[r.next]
		if !ok {
			break
		}
		delete(r.pending, r.next)
		ready = append(ready, d)
		r.next++
	}

	return ready, nil
}

// Complete returns true when the end of stream has been seen and every chunk before it delivered.
func (r *Reassembler) Complete() bool {
	return r.ended && r.next == r.end
}

func (r *Reassembler) maxPendingSeq() uint64 {
	var highest uint64
	for s := range r.pending {
		if s > highest {
			highest = s
		}
	}
	return highest
}
