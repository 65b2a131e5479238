package reconcile

import (
	"sync"
	"sync/atomic"
)

// Guard admits one scan at a time.
type Guard struct {
	busy atomic.Bool
}

// TryAcquire claims the guard. It returns false when a scan is in flight.
func (g *Guard) TryAcquire() bool {
	return g.busy.CompareAndSwap(false, true)
}

// Release frees the guard.
func (g *Guard) Release() {
	g.busy.Store(false)
}

// Busy reports whether a scan holds the guard.
func (g *Guard) Busy() bool {
	return g.busy.Load()
}

// ProgressSnapshot is a point-in-time view of a scan.
type ProgressSnapshot struct {
	Window  string  `json:"window"`
	Percent float64 `json:"percent"`
	Done    int     `json:"done"`
	Total   int     `json:"total"`
	Running bool    `json:"running"`
}

// Progress tracks scan completion as a percentage that never decreases
// while a scan runs.
type Progress struct {
	mu    sync.Mutex
	snap  ProgressSnapshot
	onSet func(float64)
}

// NewProgress returns a tracker that reports every change to onSet, which
// may be nil.
func NewProgress(onSet func(float64)) *Progress {
	return &Progress{onSet: onSet}
}

func (p *Progress) start(window string, total int) {
	p.mu.Lock()
	p.snap = ProgressSnapshot{Window: window, Total: total, Running: true}
	p.mu.Unlock()
	p.report(0)
}

func (p *Progress) advance() {
	p.mu.Lock()
	if p.snap.Done < p.snap.Total {
		p.snap.Done++
	}
	pct := 100.0
	if p.snap.Total > 0 {
		pct = float64(p.snap.Done) / float64(p.snap.Total) * 100
	}
	if pct > p.snap.Percent {
		p.snap.Percent = pct
	}
	pct = p.snap.Percent
	p.mu.Unlock()
	p.report(pct)
}

func (p *Progress) finish(complete bool) {
	p.mu.Lock()
	p.snap.Running = false
	if complete {
		p.snap.Done = p.snap.Total
		p.snap.Percent = 100
	}
	pct := p.snap.Percent
	p.mu.Unlock()
	p.report(pct)
}

func (p *Progress) report(pct float64) {
	if p.onSet != nil {
		p.onSet(pct)
	}
}

// Snapshot returns the current state.
func (p *Progress) Snapshot() ProgressSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snap
}
