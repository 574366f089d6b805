package vision

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"argus-vision-server/internal/utils"
)

// PoolConfig bounds the context pool.
type PoolConfig struct {
	MaxSize        int
	AcquireTimeout time.Duration
}

// DefaultPoolConfig 默认池配置
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxSize:        4,
		AcquireTimeout: 5 * time.Second,
	}
}

// ContextPool hands out NativeContext instances with exclusive checkout.
// Contexts are constructed lazily up to MaxSize and destroyed only when the
// pool closes, so the in-use count can never exceed MaxSize.
type ContextPool struct {
	config  PoolConfig
	logger  *utils.Logger
	pool    chan *NativeContext
	created atomic.Int64
	inUse   atomic.Int64
	mu      sync.Mutex
	closed  atomic.Bool
}

// NewContextPool 创建 NativeContext 池
func NewContextPool(cfg PoolConfig, logger *utils.Logger) *ContextPool {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultPoolConfig().MaxSize
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = DefaultPoolConfig().AcquireTimeout
	}

	return &ContextPool{
		config: cfg,
		logger: logger,
		pool:   make(chan *NativeContext, cfg.MaxSize),
	}
}

// Acquire returns a free context, lazily constructing one while the pool is
// below capacity. It blocks until a context is free, the caller's context
// expires, or the acquire timeout elapses (ErrResourceExhausted).
func (p *ContextPool) Acquire(ctx context.Context) (*NativeContext, error) {
	if p.closed.Load() {
		return nil, ErrPoolClosed
	}

	select {
	case nc := <-p.pool:
		return p.lease(nc), nil
	default:
	}

	p.mu.Lock()
	if p.created.Load() < int64(p.config.MaxSize) {
		nc, err := newNativeContext(int(p.created.Load()))
		if err != nil {
			p.mu.Unlock()
			return nil, err
		}
		p.created.Add(1)
		p.mu.Unlock()
		p.logger.DebugTag("POOL", "created native context %d", nc.id)
		return p.lease(nc), nil
	}
	p.mu.Unlock()

	timer := time.NewTimer(p.config.AcquireTimeout)
	defer timer.Stop()

	select {
	case nc := <-p.pool:
		return p.lease(nc), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, ErrResourceExhausted
	}
}

func (p *ContextPool) lease(nc *NativeContext) *NativeContext {
	nc.leased.Store(true)
	p.inUse.Add(1)
	return nc
}

// Release returns a context to the pool. Releasing the same checkout twice
// is a no-op, so deferred releases stay safe on every exit path.
func (p *ContextPool) Release(nc *NativeContext) {
	if nc == nil {
		return
	}
	if !nc.leased.CompareAndSwap(true, false) {
		p.logger.WarnTag("POOL", "ignored double release of context %d", nc.id)
		return
	}
	nc.lastUsed = time.Now()
	p.inUse.Add(-1)

	if p.closed.Load() {
		nc.Close()
		p.created.Add(-1)
		return
	}

	select {
	case p.pool <- nc:
	default:
		// Capacity bound means this cannot happen unless a context
		// escaped the pool; destroy rather than leak.
		p.logger.WarnTag("POOL", "destroying surplus context %d", nc.id)
		nc.Close()
		p.created.Add(-1)
	}
}

// Close destroys all idle contexts and marks the pool closed. Contexts still
// checked out are destroyed when released.
func (p *ContextPool) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}

	for {
		select {
		case nc := <-p.pool:
			nc.Close()
			p.created.Add(-1)
		default:
			return nil
		}
	}
}

// Stats 获取池统计信息
func (p *ContextPool) Stats() (created, inUse, available int64) {
	created = p.created.Load()
	inUse = p.inUse.Load()
	available = created - inUse
	return
}

// Capacity reports the configured maximum number of contexts.
func (p *ContextPool) Capacity() int {
	return p.config.MaxSize
}
