// Package optimistic keeps a client-side list in step with the server while
// mutations are shown before the server has answered.
//
// The visible list is the confirmed server list with the pending mutations
// folded over it in submission order. A failed mutation is dropped from the
// pending queue, which restores exactly what was visible before it, and the
// confirmed list is refetched.
package optimistic

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/you/club-membership/internal/infra"
)

type State string

const (
	Pending    State = "PENDING"
	Committed  State = "COMMITTED"
	RolledBack State = "ROLLED_BACK"
)

type Kind int

const (
	Add Kind = iota
	Update
	Remove
)

func (k Kind) String() string {
	switch k {
	case Add:
		return "add"
	case Update:
		return "update"
	case Remove:
		return "remove"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

var ErrClosed = errors.New("optimistic: controller closed")

// RollbackError is returned in a Result when a mutation was undone.
type RollbackError struct {
	Key any
	Err error
}

func (e *RollbackError) Error() string {
	return fmt.Sprintf("rolled back %v: %v", e.Key, e.Err)
}

func (e *RollbackError) Unwrap() error { return e.Err }

// Mutation describes one optimistic change. For Add, Item may carry a
// temporary key; the item returned by Commit replaces it. Commit's result is
// ignored for Remove.
type Mutation[T any] struct {
	Kind   Kind
	Item   T
	Commit func(ctx context.Context, item T) (T, error)
}

type Result[T any] struct {
	State State
	Item  T
	Err   error
}

type Option func(*options)

type options struct {
	commitTimeout time.Duration
	log           infra.Logger
}

// WithCommitTimeout bounds each Commit call. A timeout counts as a failure.
func WithCommitTimeout(d time.Duration) Option {
	return func(o *options) { o.commitTimeout = d }
}

func WithLogger(l infra.Logger) Option {
	return func(o *options) { o.log = l }
}

type op[T any, K comparable] struct {
	seq  uint64
	kind Kind
	key  K
	item T
}

// landed is a server-confirmed change recorded while a refetch is running.
type landed[T any, K comparable] struct {
	kind Kind
	key  K
	item T
}

type Controller[T any, K comparable] struct {
	key   func(T) K
	fetch func(ctx context.Context) ([]T, error)
	opts  options
	group singleflight.Group

	mu         sync.Mutex
	confirmed  []T
	pending    []op[T, K]
	seq        uint64
	refetching bool
	landed     []landed[T, K]
	tails      map[K]chan struct{}
	subs       []chan struct{}
	closed     bool
}

func New[T any, K comparable](key func(T) K, fetch func(ctx context.Context) ([]T, error), opts ...Option) *Controller[T, K] {
	o := options{commitTimeout: 10 * time.Second, log: infra.NewNopLogger()}
	for _, fn := range opts {
		fn(&o)
	}
	return &Controller[T, K]{
		key:   key,
		fetch: fetch,
		opts:  o,
		tails: map[K]chan struct{}{},
	}
}

// Load replaces the confirmed list with the server's.
func (c *Controller[T, K]) Load(ctx context.Context) error {
	return c.refetch(ctx)
}

// Items returns the visible list.
func (c *Controller[T, K]) Items() []T {
	c.mu.Lock()
	defer c.mu.Unlock()
	view := append([]T(nil), c.confirmed...)
	for _, o := range c.pending {
		view = fold(view, c.key, o.kind, o.key, o.item)
	}
	return view
}

// Subscribe returns a channel that receives after every visible change. It is
// closed by Close.
func (c *Controller[T, K]) Subscribe() <-chan struct{} {
	ch := make(chan struct{}, 1)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		close(ch)
		return ch
	}
	c.subs = append(c.subs, ch)
	return ch
}

// Apply shows m immediately, commits it and reconciles with the outcome.
// Mutations on the same key run one after another in call order.
func (c *Controller[T, K]) Apply(ctx context.Context, m Mutation[T]) Result[T] {
	k := c.key(m.Item)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Result[T]{State: RolledBack, Item: m.Item, Err: ErrClosed}
	}
	prev := c.tails[k]
	done := make(chan struct{})
	c.tails[k] = done
	c.mu.Unlock()

	if prev != nil {
		select {
		case <-prev:
		case <-ctx.Done():
			// keep the chain intact for whoever queued behind us
			go func() {
				<-prev
				c.release(k, done)
			}()
			return Result[T]{State: RolledBack, Item: m.Item, Err: &RollbackError{Key: k, Err: ctx.Err()}}
		}
	}
	defer c.release(k, done)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Result[T]{State: RolledBack, Item: m.Item, Err: ErrClosed}
	}
	c.seq++
	seq := c.seq
	c.pending = append(c.pending, op[T, K]{seq: seq, kind: m.Kind, key: k, item: m.Item})
	c.mu.Unlock()
	c.notify()

	cctx, cancel := context.WithTimeout(ctx, c.opts.commitTimeout)
	got, err := m.Commit(cctx, m.Item)
	cancel()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Result[T]{State: RolledBack, Item: m.Item, Err: ErrClosed}
	}
	c.dropPending(seq)
	if err == nil {
		c.confirm(m.Kind, k, got)
		if c.refetching {
			c.landed = append(c.landed, landed[T, K]{kind: m.Kind, key: k, item: got})
		}
		c.mu.Unlock()
		c.notify()
		if m.Kind == Remove {
			got = m.Item
		}
		return Result[T]{State: Committed, Item: got}
	}
	c.mu.Unlock()
	c.notify()

	c.opts.log.Warnf("%s %v rolled back: %v", m.Kind, k, err)
	if ferr := c.refetch(ctx); ferr != nil && !errors.Is(ferr, ErrClosed) {
		c.opts.log.Errorf("refetch after rollback failed: %v", ferr)
	}
	return Result[T]{State: RolledBack, Item: m.Item, Err: &RollbackError{Key: k, Err: err}}
}

// Close discards pending state. Later Apply calls and late commit responses
// are ignored.
func (c *Controller[T, K]) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.pending = nil
	c.landed = nil
	for _, ch := range c.subs {
		close(ch)
	}
	c.subs = nil
}

func (c *Controller[T, K]) release(k K, done chan struct{}) {
	c.mu.Lock()
	if c.tails[k] == done {
		delete(c.tails, k)
	}
	c.mu.Unlock()
	close(done)
}

// refetch reloads the confirmed list. Concurrent callers share one fetch;
// successes that land while it runs are replayed on top of the result. The
// shared fetch is detached from the caller's context and bounded by the
// commit timeout, so a caller that gives up does not fail the others.
func (c *Controller[T, K]) refetch(ctx context.Context) error {
	ch := c.group.DoChan("refetch", func() (any, error) {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return nil, ErrClosed
		}
		c.refetching = true
		c.landed = nil
		c.mu.Unlock()

		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.commitTimeout)
		items, err := c.fetch(fctx)
		cancel()

		c.mu.Lock()
		c.refetching = false
		replay := c.landed
		c.landed = nil
		switch {
		case c.closed:
			err = ErrClosed
		case err == nil:
			c.confirmed = append([]T(nil), items...)
			for _, l := range replay {
				c.confirm(l.kind, l.key, l.item)
			}
		}
		c.mu.Unlock()
		if err != nil {
			return nil, err
		}
		c.notify()
		return nil, nil
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// confirm applies a server-acknowledged change to the confirmed list. The
// caller holds mu.
func (c *Controller[T, K]) confirm(kind Kind, k K, item T) {
	switch kind {
	case Remove:
		c.confirmed = without(c.confirmed, c.key, k)
	case Add:
		c.confirmed = without(c.confirmed, c.key, k)
		c.confirmed = upsert(c.confirmed, c.key, item)
	default:
		c.confirmed = upsert(c.confirmed, c.key, item)
	}
}

func (c *Controller[T, K]) dropPending(seq uint64) {
	for i, o := range c.pending {
		if o.seq == seq {
			c.pending = append(c.pending[:i:i], c.pending[i+1:]...)
			return
		}
	}
}

func (c *Controller[T, K]) notify() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range c.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func fold[T any, K comparable](view []T, key func(T) K, kind Kind, k K, item T) []T {
	if kind == Remove {
		return without(view, key, k)
	}
	return upsert(view, key, item)
}

func upsert[T any, K comparable](list []T, key func(T) K, item T) []T {
	k := key(item)
	for i := range list {
		if key(list[i]) == k {
			out := append([]T(nil), list...)
			out[i] = item
			return out
		}
	}
	return append(list, item)
}

func without[T any, K comparable](list []T, key func(T) K, k K) []T {
	out := list[:0:0]
	for _, it := range list {
		if key(it) != k {
			out = append(out, it)
		}
	}
	return out
}
