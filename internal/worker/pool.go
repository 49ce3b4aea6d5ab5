package worker

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/phuslu/log"
	"github.com/redis/go-redis/v9"

	"catalog-import-service/internal/logger"
	"catalog-import-service/internal/service"
)

type Pool struct {
	queue     service.Queue
	processor *Processor
	workers   int
	log       *log.Logger

	claimDelay time.Duration
	// heartbeat should stay well below the queue lease TTL
	heartbeat  time.Duration
	ackTimeout time.Duration
}

func NewPool(queue service.Queue, processor *Processor, workers int, heartbeat time.Duration, logger *log.Logger) *Pool {
	if workers <= 0 {
		workers = 4
	}
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}
	return &Pool{
		queue:      queue,
		processor:  processor,
		workers:    workers,
		log:        logger,
		claimDelay: 5 * time.Second,
		heartbeat:  heartbeat,
		ackTimeout: 5 * time.Second,
	}
}

// Run claims jobs until ctx is cancelled, then waits for running jobs to
// wind down. Cancelling ctx cancels the jobs themselves too.
func (p *Pool) Run(ctx context.Context) {
	p.log.Info().Int("workers", p.workers).Msg("worker pool started")

	jobCh := make(chan string)
	var wg sync.WaitGroup

	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			wlog := logger.With(p.log, "worker", strconv.Itoa(n))
			for jobID := range jobCh {
				p.handle(ctx, wlog, jobID)
			}
		}(i + 1)
	}

	defer func() {
		close(jobCh)
		wg.Wait()
		p.log.Info().Msg("worker pool stopped")
	}()

	// listener: atomically claim from queue -> processing
	for {
		if ctx.Err() != nil {
			return
		}
		jobID, err := p.queue.ClaimBlocking(ctx, p.claimDelay)
		if err != nil {
			// timeout/redis.Nil/ctx cancel are not fatal
			if !isIdle(err) {
				p.log.Warn().Err(err).Msg("claim failed")
				sleep(ctx, time.Second)
			}
			continue
		}
		select {
		case jobCh <- jobID:
		case <-ctx.Done():
			// claimed but never started; the reaper hands it out again
			return
		}
	}
}

func (p *Pool) handle(ctx context.Context, wlog *log.Logger, jobID string) {
	stop := p.keepAlive(ctx, wlog, jobID)
	err := p.processor.Process(ctx, jobID)
	stop()

	if err != nil {
		// leave the claim in place so the reaper retries once the lease runs out
		wlog.Error().Str("job_id", jobID).Err(err).Msg("process job")
		return
	}

	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.ackTimeout)
	defer cancel()
	if err := p.queue.Ack(actx, jobID); err != nil {
		wlog.Error().Str("job_id", jobID).Err(err).Msg("ack job")
	}
}

// keepAlive heartbeats the lease until the returned func is called.
func (p *Pool) keepAlive(ctx context.Context, wlog *log.Logger, jobID string) func() {
	hctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		t := time.NewTicker(p.heartbeat)
		defer t.Stop()
		for {
			select {
			case <-hctx.Done():
				return
			case <-t.C:
				if err := p.queue.Heartbeat(hctx, jobID); err != nil && hctx.Err() == nil {
					wlog.Warn().Str("job_id", jobID).Err(err).Msg("heartbeat")
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

func isIdle(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, redis.Nil)
}

func sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
