// Package snowflake generates unique, time-sortable 64-bit ids:
// 41 bits of millisecond timestamp, 10 bits of node id, 12 bits of
// per-millisecond sequence. Message ordering by id is creation ordering,
// which is what the history clustering key relies on.
package snowflake

import (
	"errors"
	"sync"
	"time"
)

const (
	nodeBits = 10
	seqBits  = 12

	nodeMax = -1 ^ (-1 << nodeBits)
	seqMask = -1 ^ (-1 << seqBits)

	timeShift = nodeBits + seqBits
	nodeShift = seqBits

	// Custom epoch: 2024-01-01 00:00:00 UTC.
	epoch int64 = 1704067200000
)

type Node struct {
	mu   sync.Mutex
	last int64
	node int64
	seq  int64
}

// NewNode creates a generator for the given node id. Each running instance
// must use a distinct id (0..1023) for ids to stay globally unique.
func NewNode(node int64) (*Node, error) {
	if node < 0 || node > nodeMax {
		return nil, errors.New("snowflake: node id must be between 0 and 1023")
	}
	return &Node{node: node}, nil
}

// Generate returns the next id. Safe for concurrent use; ids from one node
// are strictly increasing.
func (n *Node) Generate() int64 {
	n.mu.Lock()
	defer n.mu.Unlock()

	now := time.Now().UnixMilli()
	if now < n.last {
		// Clock went backwards; hold at the previous timestamp instead of
		// risking duplicate ids.
		now = n.last
	}

	if now == n.last {
		n.seq = (n.seq + 1) & seqMask
		if n.seq == 0 {
			// Sequence exhausted for this millisecond; spin to the next.
			for now <= n.last {
				now = time.Now().UnixMilli()
			}
		}
	} else {
		n.seq = 0
	}
	n.last = now

	return ((now - epoch) << timeShift) | (n.node << nodeShift) | n.seq
}
