package dispatch

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"argus-vision-server/internal/domain/eventbus"
	domainimage "argus-vision-server/internal/domain/image"
	"argus-vision-server/internal/domain/vision"
	"argus-vision-server/internal/platform/config"
	"argus-vision-server/internal/utils"
)

// Dispatcher 请求分发器：有界队列 + 固定 worker 池
//
// Every worker owns at most one request at a time and walks it through the
// full lifecycle: decode, context checkout, pipeline, completion. The queue
// is bounded; a full queue rejects immediately instead of blocking the
// caller.
type Dispatcher struct {
	cfg      config.DispatchConfig
	logger   *utils.Logger
	decoder  *domainimage.Decoder
	pool     *vision.ContextPool
	pipeline *vision.Pipeline

	queue chan *job
	slots []*slot
	wg    sync.WaitGroup

	mu     sync.RWMutex
	closed bool

	accepted  atomic.Int64
	rejected  atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	timedOut  atomic.Int64
}

type slot struct {
	id    int
	state atomic.Int32
}

func (s *slot) set(state SlotState) {
	s.state.Store(int32(state))
}

func (s *slot) get() SlotState {
	return SlotState(s.state.Load())
}

type job struct {
	ctx    context.Context
	cancel context.CancelFunc
	req    Request
	done   chan Outcome
}

// NewDispatcher 创建分发器并启动 worker
func NewDispatcher(cfg config.DispatchConfig, decoder *domainimage.Decoder, pool *vision.ContextPool, pipeline *vision.Pipeline, logger *utils.Logger) *Dispatcher {
	// queue_bound 0 表示不排队：只有空闲 worker 能立即接收时才受理
	if cfg.QueueBound < 0 {
		cfg.QueueBound = 16
	}
	if cfg.RequestTimeout.Std() <= 0 {
		cfg.RequestTimeout = config.Duration(10 * time.Second)
	}

	d := &Dispatcher{
		cfg:      cfg,
		logger:   logger,
		decoder:  decoder,
		pool:     pool,
		pipeline: pipeline,
		queue:    make(chan *job, cfg.QueueBound),
	}

	workers := pool.Capacity()
	d.slots = make([]*slot, workers)
	for i := 0; i < workers; i++ {
		d.slots[i] = &slot{id: i}
		d.wg.Add(1)
		go d.run(d.slots[i])
	}

	logger.InfoTag("DISPATCH", "dispatcher started: %d workers, queue bound %d", workers, cfg.QueueBound)
	return d
}

// Process submits one request and blocks until its single outcome: a result,
// a classified error, or a timeout. A full queue fails fast with
// ErrOverloaded before any decoding happens.
func (d *Dispatcher) Process(ctx context.Context, req Request) (*vision.Result, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	jctx, cancel := context.WithTimeout(ctx, d.cfg.RequestTimeout.Std())
	jb := &job{
		ctx:    jctx,
		cancel: cancel,
		req:    req,
		done:   make(chan Outcome, 1),
	}

	d.mu.RLock()
	if d.closed {
		d.mu.RUnlock()
		cancel()
		return nil, ErrClosed
	}
	select {
	case d.queue <- jb:
		d.mu.RUnlock()
		d.accepted.Add(1)
	default:
		d.mu.RUnlock()
		cancel()
		d.rejected.Add(1)
		d.logger.WarnTag("DISPATCH", "queue full, rejected request %s", req.ID)
		eventbus.PublishAsync(eventbus.EventVisionRejected, eventbus.VisionEventData{
			RequestID: req.ID,
			Kind:      string(KindOverloaded),
		})
		return nil, ErrOverloaded
	}

	select {
	case outcome := <-jb.done:
		if outcome.Err != nil {
			return nil, outcome.Err
		}
		return outcome.Result, nil
	case <-jctx.Done():
		// An outcome racing the deadline still wins.
		select {
		case outcome := <-jb.done:
			if outcome.Err != nil {
				return nil, outcome.Err
			}
			return outcome.Result, nil
		default:
		}
		// The worker notices the dead context and discards the job.
		d.timedOut.Add(1)
		d.logger.WarnTag("DISPATCH", "request %s abandoned: %v", req.ID, jctx.Err())
		eventbus.PublishAsync(eventbus.EventVisionFailed, eventbus.VisionEventData{
			RequestID: req.ID,
			Kind:      string(KindTimeout),
			Error:     jctx.Err().Error(),
		})
		return nil, jctx.Err()
	}
}

func (d *Dispatcher) run(s *slot) {
	defer d.wg.Done()

	for jb := range d.queue {
		if jb.ctx.Err() != nil {
			// Abandoned while queued; the submitter already answered.
			jb.cancel()
			continue
		}
		d.execute(s, jb)
		s.set(SlotIdle)
	}
}

func (d *Dispatcher) execute(s *slot, jb *job) {
	defer jb.cancel()
	defer func() {
		if r := recover(); r != nil {
			d.logger.ErrorTag("DISPATCH", "worker %d panic on request %s: %v", s.id, jb.req.ID, r)
			d.deliver(jb, Outcome{
				Err:  fmt.Errorf("internal failure on request %s: %v", jb.req.ID, r),
				Kind: KindInternal,
			})
		}
	}()

	s.set(SlotDecoding)
	img, err := d.decoder.Decode(jb.req.Data, jb.req.ContentType)
	if err != nil {
		d.deliver(jb, Outcome{Err: err, Kind: Classify(err)})
		return
	}
	defer img.Close()

	s.set(SlotAwaitingContext)
	nc, err := d.pool.Acquire(jb.ctx)
	if err != nil {
		d.deliver(jb, Outcome{Err: err, Kind: Classify(err)})
		return
	}
	defer d.pool.Release(nc)

	s.set(SlotProcessing)
	result, err := d.pipeline.Run(jb.ctx, img, nc)
	if err != nil {
		d.deliver(jb, Outcome{Err: err, Kind: Classify(err)})
		return
	}

	s.set(SlotCompleting)
	result.RequestID = jb.req.ID
	d.deliver(jb, Outcome{Result: result})
}

// deliver hands the job its single outcome and updates counters. The done
// channel is buffered so delivery never blocks, even if the submitter
// already gave up on the request.
func (d *Dispatcher) deliver(jb *job, outcome Outcome) {
	if outcome.Err != nil {
		d.failed.Add(1)
		d.logger.WarnTag("DISPATCH", "request %s failed (%s): %v", jb.req.ID, outcome.Kind, outcome.Err)
		eventbus.PublishAsync(eventbus.EventVisionFailed, eventbus.VisionEventData{
			RequestID: jb.req.ID,
			Kind:      string(outcome.Kind),
			Error:     outcome.Err.Error(),
		})
	} else {
		d.completed.Add(1)
		d.logger.DebugTag("DISPATCH", "request %s completed: %d regions in %.1fms",
			jb.req.ID, len(outcome.Result.Regions), outcome.Result.ElapsedMS)
		eventbus.PublishAsync(eventbus.EventVisionCompleted, eventbus.VisionEventData{
			RequestID: jb.req.ID,
			Regions:   len(outcome.Result.Regions),
			ElapsedMS: outcome.Result.ElapsedMS,
		})
	}
	jb.done <- outcome
}

// Stats 获取分发器统计信息
func (d *Dispatcher) Stats() Stats {
	st := Stats{
		Workers:       len(d.slots),
		QueueDepth:    len(d.queue),
		QueueCapacity: cap(d.queue),
		Accepted:      d.accepted.Load(),
		Rejected:      d.rejected.Load(),
		Completed:     d.completed.Load(),
		Failed:        d.failed.Load(),
		TimedOut:      d.timedOut.Load(),
	}
	for _, s := range d.slots {
		if s.get() != SlotIdle {
			st.Busy++
		}
	}
	return st
}

// Close stops intake, lets workers drain the queue, and waits for them.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	d.wg.Wait()
	d.logger.InfoTag("DISPATCH", "dispatcher stopped")
	return nil
}
