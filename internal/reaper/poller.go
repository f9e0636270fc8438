package reaper

import (
	"context"
	"sync"
	"time"

	"github.com/orderflow/stockhold/internal/system"
	"github.com/orderflow/stockhold/pkg/logger"
)

var _ system.Service = (*Poller)(nil)

// Poller runs the reaper on a fixed interval as a lifecycle-managed service.
type Poller struct {
	reaper   *Reaper
	log      *logger.Logger
	interval time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewPoller creates a poller sweeping at the given interval.
func NewPoller(reaper *Reaper, interval time.Duration, log *logger.Logger) *Poller {
	if log == nil {
		log = logger.NewDefault("reaper-poller")
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Poller{reaper: reaper, log: log, interval: interval}
}

func (p *Poller) Name() string { return "reaper-poller" }

func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.running = true
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				p.tick(runCtx)
			}
		}
	}()

	p.log.Info("reaper poller started")
	return nil
}

func (p *Poller) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	cancel := p.cancel
	p.running = false
	p.cancel = nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		p.wg.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	p.log.Info("reaper poller stopped")
	return nil
}

func (p *Poller) tick(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, p.interval)
	defer cancel()

	report, err := p.reaper.RunOnce(ctx)
	if err != nil {
		p.log.WithError(err).Warn("reaper sweep failed")
		return
	}
	if report.Scanned > 0 {
		p.log.WithFields(map[string]interface{}{
			"scanned":  report.Scanned,
			"consumed": report.Consumed,
			"released": report.Released,
			"dropped":  report.Dropped,
			"errors":   report.Errors,
		}).Info("reaper sweep completed")
	}
}
