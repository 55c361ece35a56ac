// Package observability provides path-query statistics tracking for cache
// sizing and performance monitoring.
package observability

import (
	"sort"
	"sync"
	"time"
)

// PathStats tracks which path queries and start keys a deployment
// actually runs. The frequencies feed cache-budget decisions: a
// fingerprint queried often and mostly missing the cache is a sign the
// byte budget is too small.
type PathStats struct {
	mu           sync.RWMutex
	queryFreq    map[string]*QueryUsage
	startKeyFreq map[string]*QueryUsage
	window       time.Duration
}

// QueryUsage holds usage statistics for one fingerprint or start key.
type QueryUsage struct {
	Key           string
	Frequency     int64
	CacheHits     int64
	TotalDuration time.Duration
	LastSeen      time.Time
}

// AvgDuration returns the mean serving time across recorded queries.
func (u *QueryUsage) AvgDuration() time.Duration {
	if u.Frequency == 0 {
		return 0
	}
	return u.TotalDuration / time.Duration(u.Frequency)
}

// NewPathStats creates a tracker that forgets entries idle longer than
// window.
func NewPathStats(window time.Duration) *PathStats {
	return &PathStats{
		queryFreq:    make(map[string]*QueryUsage),
		startKeyFreq: make(map[string]*QueryUsage),
		window:       window,
	}
}

// RecordQuery records one served query for a fingerprint.
// This method is O(1) and thread-safe.
func (p *PathStats) RecordQuery(fingerprint string, cacheHit bool, duration time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	usage, exists := p.queryFreq[fingerprint]
	if !exists {
		usage = &QueryUsage{Key: fingerprint}
		p.queryFreq[fingerprint] = usage
	}
	usage.Frequency++
	if cacheHit {
		usage.CacheHits++
	}
	usage.TotalDuration += duration
	usage.LastSeen = time.Now()
}

// RecordStartKey records a query scoped by the given start key or
// start-point event name.
func (p *PathStats) RecordStartKey(key string) {
	if key == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	usage, exists := p.startKeyFreq[key]
	if !exists {
		usage = &QueryUsage{Key: key}
		p.startKeyFreq[key] = usage
	}
	usage.Frequency++
	usage.LastSeen = time.Now()
}

// GetTopQueries returns the top N fingerprints by frequency.
// Returns copies sorted by frequency (descending).
func (p *PathStats) GetTopQueries(n int) []QueryUsage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return topUsage(p.queryFreq, n)
}

// GetTopStartKeys returns the top N start keys by frequency.
func (p *PathStats) GetTopStartKeys(n int) []QueryUsage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return topUsage(p.startKeyFreq, n)
}

func topUsage(freq map[string]*QueryUsage, n int) []QueryUsage {
	if n <= 0 || len(freq) == 0 {
		return []QueryUsage{}
	}

	usages := make([]QueryUsage, 0, len(freq))
	for _, u := range freq {
		usages = append(usages, *u)
	}

	sort.Slice(usages, func(i, j int) bool {
		return usages[i].Frequency > usages[j].Frequency
	})

	if n > len(usages) {
		n = len(usages)
	}
	return usages[:n]
}

// Prune removes entries where time.Since(LastSeen) > window.
// This should be called periodically (e.g., every 5 minutes).
func (p *PathStats) Prune() {
	p.mu.Lock()
	defer p.mu.Unlock()

	threshold := time.Now().Add(-p.window)
	for key, usage := range p.queryFreq {
		if usage.LastSeen.Before(threshold) {
			delete(p.queryFreq, key)
		}
	}
	for key, usage := range p.startKeyFreq {
		if usage.LastSeen.Before(threshold) {
			delete(p.startKeyFreq, key)
		}
	}
}
