// Package poller runs the fixed-rate refetch that backstops the push
// transport. It is always active while a conversation is on screen, whether
// or not push is configured or connected — eventual consistency comes from
// here, not from the socket.
package poller

import (
	"context"
	"sync"
	"time"

	"github.com/quizz-issima/realtime/internal/logger"
)

// DefaultInterval is the poll cadence used when none is configured.
const DefaultInterval = 3 * time.Second

// fetchTimeout bounds a single tick's fetch. Overlapping fetches are fine —
// the reconciler dedups by id — but an abandoned one must not leak.
const fetchTimeout = 10 * time.Second

// FetchFunc performs one full-state fetch and merges the result. Errors are
// swallowed here: a failed tick never stops the schedule.
type FetchFunc func(ctx context.Context) error

// Poller issues fetch on a fixed interval. Each tick fires at the fixed rate
// from the previous tick's start; a slow fetch runs out its own goroutine and
// does not delay the next tick.
type Poller struct {
	interval time.Duration
	fetch    FetchFunc
	name     string

	mu      sync.Mutex
	cancel  context.CancelFunc
	running bool
	wg      sync.WaitGroup
}

// New creates a poller; interval <= 0 falls back to DefaultInterval.
// name appears in logs ("conversation-42").
func New(name string, interval time.Duration, fetch FetchFunc) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Poller{interval: interval, fetch: fetch, name: name}
}

// Start begins ticking. Calling Start on a running poller is a no-op.
func (p *Poller) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.running = true
	p.wg.Add(1)
	go p.run(ctx)
}

// Stop cancels the timer and waits for in-flight ticks to finish launching.
// Must be called on unmount/conversation change; idempotent.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	cancel := p.cancel
	p.cancel = nil
	p.mu.Unlock()

	cancel()
	p.wg.Wait()
}

func (p *Poller) run(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.wg.Add(1)
			go func() {
				defer p.wg.Done()
				p.tick(ctx)
			}()
		}
	}
}

// tick runs one fetch. Transient errors are logged and dropped — the next
// scheduled tick retries by construction.
func (p *Poller) tick(ctx context.Context) {
	fetchCtx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()
	if err := p.fetch(fetchCtx); err != nil {
		if ctx.Err() != nil {
			return
		}
		logger.Debugf("poll %s: fetch failed (will retry next tick): %v", p.name, err)
	}
}
