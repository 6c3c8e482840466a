// Package poller drives the continuous PID poll loop described in spec
// §4.5/§5: one fast/slow scheduling round per tick, paced by the cache's own
// maintenance interval ("the scheduler sleeps on its queue with a timeout
// equal to the maintenance interval"), followed by one promotion/demotion/
// removal maintenance pass.
package poller

import (
	"context"
	"time"
)

// Sender is the narrow capability the poller uses to submit fire-and-forget
// dongle requests.
type Sender interface {
	SendAsync(cmd string)
}

// Scheduler is the narrow capability the poller drives each tick.
type Scheduler interface {
	PollPlan() []string
	Maintain()
}

// Poller ticks the PID cache's scheduler at tickInterval, submitting each
// planned PID to dongle via Sender and then running one maintenance pass.
type Poller struct {
	scheduler    Scheduler
	sender       Sender
	tickInterval time.Duration
}

// New returns a Poller ready to Run.
func New(scheduler Scheduler, sender Sender, tickInterval time.Duration) *Poller {
	return &Poller{scheduler: scheduler, sender: sender, tickInterval: tickInterval}
}

// Run ticks until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick()
		}
	}
}

func (p *Poller) tick() {
	for _, cmd := range p.scheduler.PollPlan() {
		p.sender.SendAsync(cmd)
	}
	p.scheduler.Maintain()
}
