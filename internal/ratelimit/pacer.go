package ratelimit

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// Pacer spaces requests to one upstream: at most maxInFlight at a time and
// at least baseDelay plus a random jitter between consecutive starts.
type Pacer struct {
	maxInFlight     int
	currentInFlight int
	baseDelay       time.Duration
	jitter          time.Duration
	lastRequest     time.Time
	mutex           sync.Mutex
}

// NewPacer creates a pacer. maxInFlight below 1 is treated as 1.
func NewPacer(maxInFlight int, baseDelay, jitter time.Duration) *Pacer {
	if maxInFlight < 1 {
		maxInFlight = 1
	}
	return &Pacer{
		maxInFlight: maxInFlight,
		baseDelay:   baseDelay,
		jitter:      jitter,
	}
}

// Acquire waits until a request may start. Every successful Acquire must be
// paired with Release.
func (p *Pacer) Acquire(ctx context.Context) error {
	for {
		p.mutex.Lock()
		if p.currentInFlight < p.maxInFlight {
			wait := p.requiredDelay() - time.Since(p.lastRequest)
			if wait <= 0 {
				p.currentInFlight++
				p.lastRequest = time.Now()
				p.mutex.Unlock()
				return nil
			}
			p.mutex.Unlock()
			if err := sleep(ctx, wait); err != nil {
				return err
			}
			continue
		}
		p.mutex.Unlock()
		if err := sleep(ctx, 100*time.Millisecond); err != nil {
			return err
		}
	}
}

// Release marks a request as completed
func (p *Pacer) Release() {
	p.mutex.Lock()
	if p.currentInFlight > 0 {
		p.currentInFlight--
	}
	p.mutex.Unlock()
}

// InFlight returns the current in-flight request count
func (p *Pacer) InFlight() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.currentInFlight
}

func (p *Pacer) requiredDelay() time.Duration {
	if p.jitter <= 0 {
		return p.baseDelay
	}
	return p.baseDelay + time.Duration(rand.Int63n(int64(p.jitter)))
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
