// Package lock serializes mutations of a single order or payment.
//
// Redis backs the lock when several replicas run; a single process uses the
// in-memory Local locker.
package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/checkout/services/order/internal/fault"
	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	goredislib "github.com/redis/go-redis/v9"
)

// Locker acquires an exclusive lock on key. The returned func releases it.
type Locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

func OrderKey(id fmt.Stringer) string {
	return "checkout:order:" + id.String()
}

func PaymentKey(id fmt.Stringer) string {
	return "checkout:payment:" + id.String()
}

func LoyaltyKey(tenantID, customerID fmt.Stringer) string {
	return "checkout:loyalty:" + tenantID.String() + ":" + customerID.String()
}

// Local is a keyed mutex. Entries are dropped once no goroutine holds or
// waits on them.
type Local struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

func NewLocal() *Local {
	return &Local{slots: make(map[string]*slot)}
}

func (l *Local) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	s, ok := l.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	l.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(key, s)
		return nil, fault.Transient(ctx.Err(), "acquire lock "+key)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-s.ch
			l.release(key, s)
		})
	}, nil
}

func (l *Local) release(key string, s *slot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}

// Redis is a redsync-backed distributed Locker.
type Redis struct {
	rs     *redsync.Redsync
	client *goredislib.Client
	expiry time.Duration
	tries  int
	logger apt.Logger
}

func NewRedis(addr string, expiry time.Duration, logger apt.Logger) *Redis {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	if expiry <= 0 {
		expiry = 10 * time.Second
	}
	client := goredislib.NewClient(&goredislib.Options{Addr: addr})
	return &Redis{
		rs:     redsync.New(goredis.NewPool(client)),
		client: client,
		expiry: expiry,
		tries:  64,
		logger: logger.With("component", "RedisLocker"),
	}
}

func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	m := r.rs.NewMutex(key,
		redsync.WithExpiry(r.expiry),
		redsync.WithTries(r.tries),
		redsync.WithRetryDelay(50*time.Millisecond),
	)
	if err := m.LockContext(ctx); err != nil {
		return nil, fault.Transient(err, "acquire lock "+key)
	}

	return func() {
		// Release with a fresh context so a cancelled request still unlocks.
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if ok, err := m.UnlockContext(ctx); err != nil || !ok {
			r.logger.Error("cannot release lock", "key", key, "error", err)
		}
	}, nil
}

// Start verifies the Redis connection.
func (r *Redis) Start(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("cannot ping redis: %w", err)
	}
	r.logger.Info("redis lock backend ready")
	return nil
}

func (r *Redis) Stop(ctx context.Context) error {
	return r.client.Close()
}
