package rabbitmq

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// ChannelPool hands out AMQP channels over the managed connection. Channels
// are cheap but not free, and a channel that saw a protocol error is dead;
// the pool discards closed channels on Get and Put.
type ChannelPool struct {
	manager     *ConnectionManager
	channels    chan *PooledChannel
	maxSize     int
	minSize     int
	idleTimeout time.Duration
	mu          sync.Mutex
	closed      bool
	activeCount int
}

// PooledChannel wraps an AMQP channel with pool metadata. Confirm-mode
// state lives here rather than in the publisher because the listeners must
// survive Get/Put cycles: amqp091 never removes a NotifyPublish listener
// before the channel closes, so registering one per publish on a reused
// channel leaks listeners until the frame dispatcher blocks on an
// abandoned buffer.
type PooledChannel struct {
	*amqp.Channel
	pool     *ChannelPool
	lastUsed time.Time
	id       string
	confirm  confirmState
}

// confirmState holds a channel's confirm-mode listeners. Setup runs once
// per channel lifetime; later calls return the cached listeners, or the
// cached error when setup failed (a failed Confirm leaves the channel
// unusable for confirmed publishing).
type confirmState struct {
	once     sync.Once
	err      error
	confirms chan amqp.Confirmation
	returns  chan amqp.Return
}

func (cs *confirmState) get(setup func() (chan amqp.Confirmation, chan amqp.Return, error)) (<-chan amqp.Confirmation, <-chan amqp.Return, error) {
	cs.once.Do(func() {
		cs.confirms, cs.returns, cs.err = setup()
	})
	return cs.confirms, cs.returns, cs.err
}

// Confirmations switches the channel into confirm mode on first use and
// returns its lifetime confirmation and return listeners.
func (pc *PooledChannel) Confirmations() (<-chan amqp.Confirmation, <-chan amqp.Return, error) {
	return pc.confirm.get(func() (chan amqp.Confirmation, chan amqp.Return, error) {
		if err := pc.Channel.Confirm(false); err != nil {
			return nil, nil, fmt.Errorf("failed to enable confirms: %w", err)
		}
		confirms := pc.Channel.NotifyPublish(make(chan amqp.Confirmation, 1))
		returns := pc.Channel.NotifyReturn(make(chan amqp.Return, 1))
		return confirms, returns, nil
	})
}

// ChannelPoolOption configures the channel pool.
type ChannelPoolOption func(*ChannelPool)

// WithMaxSize sets the maximum pool size.
func WithMaxSize(size int) ChannelPoolOption {
	return func(cp *ChannelPool) {
		cp.maxSize = size
	}
}

// WithMinSize sets the number of channels opened eagerly.
func WithMinSize(size int) ChannelPoolOption {
	return func(cp *ChannelPool) {
		cp.minSize = size
	}
}

// WithIdleTimeout sets how long an unused channel survives above minSize.
func WithIdleTimeout(timeout time.Duration) ChannelPoolOption {
	return func(cp *ChannelPool) {
		cp.idleTimeout = timeout
	}
}

// NewChannelPool creates a channel pool over an established connection.
func NewChannelPool(manager *ConnectionManager, options ...ChannelPoolOption) (*ChannelPool, error) {
	if manager == nil {
		return nil, ErrInvalidConfiguration
	}

	pool := &ChannelPool{
		manager:     manager,
		maxSize:     10,
		minSize:     2,
		idleTimeout: 5 * time.Minute,
	}

	for _, opt := range options {
		opt(pool)
	}

	if pool.maxSize < 1 {
		return nil, fmt.Errorf("%w: max size must be at least 1", ErrInvalidConfiguration)
	}
	if pool.minSize < 0 || pool.minSize > pool.maxSize {
		return nil, fmt.Errorf("%w: min size must be between 0 and max size", ErrInvalidConfiguration)
	}

	pool.channels = make(chan *PooledChannel, pool.maxSize)

	var created []*PooledChannel
	for i := 0; i < pool.minSize; i++ {
		ch, err := pool.createChannel()
		if err != nil {
			for _, c := range created {
				c.Channel.Close()
			}
			return nil, &ChannelError{
				Op:        "pool initialization",
				ChannelID: fmt.Sprintf("init-%d", i),
				Err:       err,
				Timestamp: time.Now(),
			}
		}
		created = append(created, ch)
	}
	for _, ch := range created {
		pool.channels <- ch
	}

	go pool.cleanupIdle()

	return pool, nil
}

// Get retrieves a channel from the pool, creating one when under maxSize.
func (cp *ChannelPool) Get(ctx context.Context) (*PooledChannel, error) {
	cp.mu.Lock()
	if cp.closed {
		cp.mu.Unlock()
		return nil, ErrChannelPoolClosed
	}
	cp.mu.Unlock()

	select {
	case ch, ok := <-cp.channels:
		if !ok {
			// Close won the race after the closed check above.
			return nil, ErrChannelPoolClosed
		}
		if ch.Channel.IsClosed() {
			cp.decrementActive()
			return cp.createAndGet(ctx)
		}
		ch.lastUsed = time.Now()
		return ch, nil

	default:
		cp.mu.Lock()
		if cp.activeCount < cp.maxSize {
			cp.mu.Unlock()
			return cp.createAndGet(ctx)
		}
		cp.mu.Unlock()

		select {
		case ch, ok := <-cp.channels:
			if !ok {
				return nil, ErrChannelPoolClosed
			}
			if ch.Channel.IsClosed() {
				cp.decrementActive()
				return cp.createAndGet(ctx)
			}
			ch.lastUsed = time.Now()
			return ch, nil

		case <-ctx.Done():
			return nil, &ChannelError{
				Op:        "get channel",
				ChannelID: "pool",
				Err:       ctx.Err(),
				Timestamp: time.Now(),
			}

		case <-time.After(5 * time.Second):
			return nil, &ChannelError{
				Op:        "get channel",
				ChannelID: "pool",
				Err:       ErrChannelPoolExhausted,
				Timestamp: time.Now(),
			}
		}
	}
}

// Put returns a channel to the pool.
func (cp *ChannelPool) Put(ch *PooledChannel) {
	if ch == nil {
		return
	}

	cp.mu.Lock()
	if cp.closed {
		cp.mu.Unlock()
		ch.Channel.Close()
		return
	}
	cp.mu.Unlock()

	if ch.Channel.IsClosed() {
		cp.decrementActive()
		return
	}

	ch.lastUsed = time.Now()

	select {
	case cp.channels <- ch:
	default:
		// Pool is full.
		ch.Channel.Close()
		cp.decrementActive()
	}
}

// Close closes all channels in the pool. Further Get calls fail.
func (cp *ChannelPool) Close() error {
	cp.mu.Lock()
	if cp.closed {
		cp.mu.Unlock()
		return nil
	}
	cp.closed = true
	cp.mu.Unlock()

	close(cp.channels)
	for ch := range cp.channels {
		if ch != nil && !ch.Channel.IsClosed() {
			ch.Channel.Close()
		}
	}

	return nil
}

// Size returns the number of live channels.
func (cp *ChannelPool) Size() int {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	return cp.activeCount
}

// Execute runs fn with a pooled channel, returning it afterwards.
func (cp *ChannelPool) Execute(ctx context.Context, fn func(*amqp.Channel) error) error {
	ch, err := cp.Get(ctx)
	if err != nil {
		return err
	}
	defer cp.Put(ch)

	var execErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				execErr = fmt.Errorf("panic in channel execution: %v", r)
			}
		}()
		execErr = fn(ch.Channel)
	}()

	return execErr
}

func (cp *ChannelPool) createChannel() (*PooledChannel, error) {
	conn, err := cp.manager.GetConnection()
	if err != nil {
		return nil, &ChannelError{
			Op:        "create channel",
			ChannelID: "new",
			Err:       err,
			Timestamp: time.Now(),
		}
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, &ChannelError{
			Op:        "create channel",
			ChannelID: "new",
			Err:       fmt.Errorf("%w: %v", ErrChannelCreationFailed, err),
			Timestamp: time.Now(),
		}
	}

	pooled := &PooledChannel{
		Channel:  ch,
		pool:     cp,
		lastUsed: time.Now(),
		id:       uuid.New().String(),
	}

	cp.mu.Lock()
	cp.activeCount++
	cp.mu.Unlock()

	return pooled, nil
}

func (cp *ChannelPool) createAndGet(ctx context.Context) (*PooledChannel, error) {
	select {
	case <-ctx.Done():
		return nil, &ChannelError{
			Op:        "create channel",
			ChannelID: "new",
			Err:       ctx.Err(),
			Timestamp: time.Now(),
		}
	default:
	}

	return cp.createChannel()
}

func (cp *ChannelPool) decrementActive() {
	cp.mu.Lock()
	cp.activeCount--
	cp.mu.Unlock()
}

// cleanupIdle closes channels unused past the idle timeout, keeping minSize.
func (cp *ChannelPool) cleanupIdle() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		cp.mu.Lock()
		if cp.closed {
			cp.mu.Unlock()
			return
		}
		cp.mu.Unlock()

		cutoff := time.Now().Add(-cp.idleTimeout)
		var keep []*PooledChannel

	drain:
		for {
			select {
			case ch, ok := <-cp.channels:
				if !ok {
					return
				}
				if ch.lastUsed.Before(cutoff) && cp.Size() > cp.minSize {
					ch.Channel.Close()
					cp.decrementActive()
				} else {
					keep = append(keep, ch)
				}
			default:
				break drain
			}
		}

		for _, ch := range keep {
			select {
			case cp.channels <- ch:
			default:
				ch.Channel.Close()
				cp.decrementActive()
			}
		}
	}
}
