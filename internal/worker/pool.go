package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/PentesterFlow/OpenAudit/internal/logger"
	"github.com/PentesterFlow/OpenAudit/internal/model"
)

// Pool runs up to a fixed number of jobs concurrently. A failed job does
// not affect the others.
type Pool struct {
	runner *Runner
	log    *logger.Logger

	ctx    context.Context
	cancel context.CancelFunc
	group  errgroup.Group

	mu       sync.Mutex
	inflight map[string]bool
	outcomes []*Outcome
}

// NewPool creates a pool bound to ctx. Cancelling ctx stops every job.
func NewPool(ctx context.Context, runner *Runner, concurrency int) (*Pool, error) {
	if runner == nil {
		return nil, fmt.Errorf("runner is nil")
	}
	if concurrency < 1 {
		return nil, fmt.Errorf("concurrency must be at least 1")
	}
	ctx, cancel := context.WithCancel(ctx)
	p := &Pool{
		runner:   runner,
		log:      runner.log.WithComponent("pool"),
		ctx:      ctx,
		cancel:   cancel,
		inflight: make(map[string]bool),
	}
	p.group.SetLimit(concurrency)
	return p, nil
}

// Submit starts crawlID if a slot is free and it is not already running.
// It reports whether the job was started.
func (p *Pool) Submit(crawlID string) bool {
	p.mu.Lock()
	if p.inflight[crawlID] || p.ctx.Err() != nil {
		p.mu.Unlock()
		return false
	}
	p.inflight[crawlID] = true
	p.mu.Unlock()

	started := p.group.TryGo(func() error {
		defer p.release(crawlID)
		out, err := p.runner.Run(p.ctx, crawlID)
		if err != nil {
			p.log.WithCrawl(crawlID).WithError(err).Warn("Job ended with error")
		}
		if out != nil {
			p.mu.Lock()
			p.outcomes = append(p.outcomes, out)
			p.mu.Unlock()
		}
		return nil
	})
	if !started {
		p.release(crawlID)
	}
	return started
}

func (p *Pool) release(crawlID string) {
	p.mu.Lock()
	delete(p.inflight, crawlID)
	p.mu.Unlock()
}

// Poll submits queued and pending crawls, oldest first, every interval
// until ctx is done.
func (p *Pool) Poll(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := p.Dispatch(ctx); err != nil {
			p.log.WithError(err).Warn("Failed to list waiting crawls")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Dispatch submits waiting crawls until the pool is full and returns how
// many were started.
func (p *Pool) Dispatch(ctx context.Context) (int, error) {
	waiting, err := p.runner.store.ListCrawlsByStatus(ctx, model.StatusQueued, model.StatusPending)
	if err != nil {
		return 0, err
	}
	started := 0
	for _, crawl := range waiting {
		if p.InFlight(crawl.ID) {
			continue
		}
		if !p.Submit(crawl.ID) {
			break
		}
		started++
	}
	if started > 0 {
		p.log.Infof("Dispatched %d of %d waiting crawls", started, len(waiting))
	}
	return started, nil
}

// InFlight reports whether crawlID is running in the pool.
func (p *Pool) InFlight(crawlID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inflight[crawlID]
}

// Outcomes returns the outcomes of the jobs finished so far.
func (p *Pool) Outcomes() []*Outcome {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Outcome(nil), p.outcomes...)
}

// Wait blocks until every submitted job has finished.
func (p *Pool) Wait() error {
	return p.group.Wait()
}

// Stop cancels every running job and waits for them to finish. Stopped
// jobs keep the pages they stored and end with status stopped.
func (p *Pool) Stop() error {
	p.cancel()
	return p.group.Wait()
}
