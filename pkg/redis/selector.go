package redis

import (
	"math/rand/v2"
	"strings"
	"sync/atomic"

	"github.com/angelmondragon/cartcache-backend/pkg/config"
)

// ReplicaSelector picks which read-only node serves a read. n is always >= 1.
type ReplicaSelector interface {
	Pick(n int) int
}

// RandomSelector chooses uniformly at random among the replicas.
type RandomSelector struct{}

func (RandomSelector) Pick(n int) int {
	if n <= 1 {
		return 0
	}
	return rand.IntN(n)
}

// RoundRobinSelector cycles through the replicas in order.
type RoundRobinSelector struct {
	next atomic.Uint64
}

func (s *RoundRobinSelector) Pick(n int) int {
	if n <= 1 {
		return 0
	}
	return int((s.next.Add(1) - 1) % uint64(n))
}

// SelectorFor maps the configured strategy name to a selector. Unknown names fall back to random.
func SelectorFor(name string) ReplicaSelector {
	if strings.EqualFold(strings.TrimSpace(name), config.ReplicaSelectorRoundRobin) {
		return &RoundRobinSelector{}
	}
	return RandomSelector{}
}
