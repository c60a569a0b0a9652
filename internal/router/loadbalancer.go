package router

import (
	"hash/fnv"
	"sort"
	"sync"

	"github.com/quantstream/tickcore/internal/channels"
)

// Strategy selects a channel instance among peers
type Strategy string

const (
	// StrategyRoundRobin cycles through peers per channel type
	StrategyRoundRobin Strategy = "round_robin"

	// StrategyLeastLoad picks the peer with the lowest queue and latency load
	StrategyLeastLoad Strategy = "least_load"

	// StrategyConsistentHash picks deterministically for a stable peer set
	StrategyConsistentHash Strategy = "consistent_hash"

	// StrategyHealthScore picks the peer with the best composite health score
	StrategyHealthScore Strategy = "health_score"
)

// LoadBalancer picks a channel instance among candidates of one type. Ties
// break stably by insertion order.
type LoadBalancer struct {
	strategy Strategy

	mu      sync.Mutex
	cursors map[channels.Type]int
}

// NewLoadBalancer creates a balancer for the given strategy
func NewLoadBalancer(strategy Strategy) *LoadBalancer {
	return &LoadBalancer{
		strategy: strategy,
		cursors:  make(map[channels.Type]int),
	}
}

// Select returns the chosen channel, or nil when candidates is empty. Under
// the health-score strategy the candidates are first filtered to healthy
// instances; when none are healthy the full set is scored and the router
// policy decides what to do with an unhealthy selection.
func (lb *LoadBalancer) Select(candidates []channels.Channel) channels.Channel {
	if len(candidates) == 0 {
		return nil
	}

	switch lb.strategy {
	case StrategyRoundRobin:
		return lb.roundRobin(candidates)
	case StrategyLeastLoad:
		return lb.leastLoad(candidates)
	case StrategyConsistentHash:
		return lb.consistentHash(candidates)
	default:
		return lb.healthScore(candidates)
	}
}

func (lb *LoadBalancer) roundRobin(candidates []channels.Channel) channels.Channel {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	key := candidates[0].Type()
	idx := lb.cursors[key] % len(candidates)
	lb.cursors[key] = (idx + 1) % len(candidates)
	return candidates[idx]
}

func (lb *LoadBalancer) leastLoad(candidates []channels.Channel) channels.Channel {
	best := candidates[0]
	bestLoad := channelLoad(best)
	for _, c := range candidates[1:] {
		if load := channelLoad(c); load < bestLoad {
			best, bestLoad = c, load
		}
	}
	return best
}

func channelLoad(c channels.Channel) float64 {
	return float64(c.QueueSize()) + c.Metrics().Snapshot().EMALatencyMs/100.0
}

func (lb *LoadBalancer) consistentHash(candidates []channels.Channel) channels.Channel {
	names := make([]string, 0, len(candidates))
	for _, c := range candidates {
		names = append(names, c.Name())
	}
	sort.Strings(names)

	h := fnv.New32a()
	for _, n := range names {
		h.Write([]byte(n))
	}
	return candidates[int(h.Sum32())%len(candidates)]
}

func (lb *LoadBalancer) healthScore(candidates []channels.Channel) channels.Channel {
	healthy := make([]channels.Channel, 0, len(candidates))
	for _, c := range candidates {
		if c.IsHealthy() {
			healthy = append(healthy, c)
		}
	}
	pool := healthy
	if len(pool) == 0 {
		pool = candidates
	}

	best := pool[0]
	bestScore := HealthScore(best)
	for _, c := range pool[1:] {
		if score := HealthScore(c); score > bestScore {
			best, bestScore = c, score
		}
	}
	return best
}

// HealthScore computes the composite channel score used by the health-score
// strategy, clamped at zero.
func HealthScore(c channels.Channel) float64 {
	snap := c.Metrics().Snapshot()

	latencyPenalty := snap.EMALatencyMs / 200.0
	if latencyPenalty > 20 {
		latencyPenalty = 20
	}

	var utilization float64
	if c.QueueCapacity() > 0 {
		utilization = float64(c.QueueSize()) / float64(c.QueueCapacity())
	}

	score := 100.0 - 30.0*snap.ErrorRate - latencyPenalty - 10.0*utilization
	if score < 0 {
		score = 0
	}
	return score
}
