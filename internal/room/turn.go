package room

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/eldtechnologies/agora/internal/models"
)

// DefaultTurnTTL is how long a granted turn stays exclusive.
const DefaultTurnTTL = 30 * time.Second

const turnKey = "room:turn"

// TurnLock grants the exclusive speaking turn first come, first served.
// A holder asking again keeps its turn without extending it.
type TurnLock interface {
	Acquire(ctx context.Context, identity string) (models.TurnGrant, error)
}

// MemoryTurnLock is a single-process TurnLock.
type MemoryTurnLock struct {
	mu     sync.Mutex
	holder string
	expiry time.Time
	ttl    time.Duration
	now    func() time.Time
}

// NewMemoryTurnLock creates an in-process turn lock.
func NewMemoryTurnLock(ttl time.Duration, now func() time.Time) *MemoryTurnLock {
	if ttl <= 0 {
		ttl = DefaultTurnTTL
	}
	if now == nil {
		now = time.Now
	}
	return &MemoryTurnLock{ttl: ttl, now: now}
}

func (l *MemoryTurnLock) Acquire(ctx context.Context, identity string) (models.TurnGrant, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if l.holder != "" && now.Before(l.expiry) {
		return models.TurnGrant{
			Granted:    strings.EqualFold(l.holder, identity),
			Holder:     l.holder,
			LockExpiry: l.expiry.UnixMilli(),
		}, nil
	}

	l.holder = identity
	l.expiry = now.Add(l.ttl)
	return models.TurnGrant{Granted: true, Holder: identity, LockExpiry: l.expiry.UnixMilli()}, nil
}

// RedisTurnLock shares the turn across server instances with SET NX PX.
type RedisTurnLock struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisTurnLock creates a turn lock on client.
func NewRedisTurnLock(client *redis.Client, ttl time.Duration) *RedisTurnLock {
	if ttl <= 0 {
		ttl = DefaultTurnTTL
	}
	return &RedisTurnLock{client: client, ttl: ttl}
}

func (l *RedisTurnLock) Acquire(ctx context.Context, identity string) (models.TurnGrant, error) {
	// Two attempts: the holder's key can expire between SETNX and GET.
	for attempt := 0; attempt < 2; attempt++ {
		ok, err := l.client.SetNX(ctx, turnKey, identity, l.ttl).Result()
		if err != nil {
			return models.TurnGrant{}, fmt.Errorf("room: acquire turn: %w", err)
		}
		if ok {
			return models.TurnGrant{
				Granted:    true,
				Holder:     identity,
				LockExpiry: time.Now().Add(l.ttl).UnixMilli(),
			}, nil
		}

		holder, err := l.client.Get(ctx, turnKey).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return models.TurnGrant{}, fmt.Errorf("room: read turn holder: %w", err)
		}
		pttl, err := l.client.PTTL(ctx, turnKey).Result()
		if err != nil {
			return models.TurnGrant{}, fmt.Errorf("room: read turn ttl: %w", err)
		}
		return models.TurnGrant{
			Granted:    strings.EqualFold(holder, identity),
			Holder:     holder,
			LockExpiry: time.Now().Add(pttl).UnixMilli(),
		}, nil
	}
	return models.TurnGrant{}, errors.New("room: turn lock contended")
}
