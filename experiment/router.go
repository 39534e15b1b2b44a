package experiment

import (
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

// RouteDecision is the variant chosen for one request.
type RouteDecision struct {
	Version int     `json:"version"`
	Label   Variant `json:"label"`
	Reason  string  `json:"reason"`
}

// RouteObserver is notified of every routing decision for a running experiment.
type RouteObserver func(key string, label Variant)

// RouterConfig holds optional Router settings. A zero Seed seeds from the clock.
type RouterConfig struct {
	Seed     int64
	Observer RouteObserver
}

// Router assigns requests to the control or treatment variant of an experiment.
// It is safe for concurrent use.
type Router struct {
	registry *Registry
	observe  RouteObserver

	mu  sync.Mutex // guards rng
	rng *rand.Rand
}

// NewRouter creates a router reading experiments from registry.
func NewRouter(registry *Registry, cfg RouterConfig) *Router {
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Router{
		registry: registry,
		observe:  cfg.Observer,
		rng:      rand.New(rand.NewSource(seed)),
	}
}

// Route selects a variant for a request to experiment key. identity is the
// caller's stable requester id and is only consulted by the hash strategy.
// Unknown and non-running experiments always route to control.
func (r *Router) Route(key string, identity *string) RouteDecision {
	e, err := r.registry.Get(key)
	if err != nil {
		return RouteDecision{Label: Control, Reason: "experiment not found"}
	}
	if e.Status != StatusRunning {
		return decide(e, Control, fmt.Sprintf("experiment %s", e.Status))
	}
	d := r.route(e, identity)
	if r.observe != nil {
		r.observe(key, d.Label)
	}
	return d
}

func (r *Router) route(e Experiment, identity *string) RouteDecision {
	switch e.Strategy {
	case SplitHash:
		if identity == nil {
			// No identity to pin: behave like the random strategy.
			u := r.uniform()
			return decide(e, splitLabel(u < e.TrafficSplit), fmt.Sprintf("hash-fallback-random[%.4f]", u))
		}
		bucket := HashBucket(*identity)
		threshold := hashThreshold(e.TrafficSplit)
		return decide(e, splitLabel(bucket < threshold), fmt.Sprintf("hash[bucket=%d,threshold=%d]", bucket, threshold))
	case SplitRandom, SplitWeighted, SplitCanary:
		u := r.uniform()
		return decide(e, splitLabel(u < e.TrafficSplit), fmt.Sprintf("%s[%.4f]", e.Strategy, u))
	default:
		return decide(e, Control, fmt.Sprintf("unknown strategy %q", e.Strategy))
	}
}

func (r *Router) uniform() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rng.Float64()
}

// HashBucket maps identity to a stable bucket in [0,100).
func HashBucket(identity string) int {
	return int(xxhash.Sum64String(identity) % 100)
}

// hashThreshold is floor(split*100), tolerant of float error such as 0.29*100.
func hashThreshold(split float64) int {
	return int(math.Floor(split*100 + 1e-9))
}

func splitLabel(treatment bool) Variant {
	if treatment {
		return Treatment
	}
	return Control
}

func decide(e Experiment, label Variant, reason string) RouteDecision {
	return RouteDecision{Version: e.VersionFor(label), Label: label, Reason: reason}
}
