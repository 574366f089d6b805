package vision

import (
	"sync/atomic"
	"time"
)

// NativeContext is a handle to native vision-library state. Instances are
// shared across requests via the pool but each checkout is exclusive: no
// stage may call into the native library without holding one, and no stage
// may retain it past its own return.
type NativeContext struct {
	id        int
	createdAt time.Time
	lastUsed  time.Time
	leased    atomic.Bool
	state     nativeState
}

func newNativeContext(id int) (*NativeContext, error) {
	state, err := initNativeState()
	if err != nil {
		return nil, err
	}
	now := time.Now()
	return &NativeContext{
		id:        id,
		createdAt: now,
		lastUsed:  now,
		state:     state,
	}, nil
}

// ID identifies the context within its pool.
func (nc *NativeContext) ID() int {
	return nc.id
}

// Close destroys the underlying native state. The pool calls this at
// shutdown; executions never do.
func (nc *NativeContext) Close() error {
	return nc.state.release()
}
