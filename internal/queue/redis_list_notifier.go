package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisListPrefix = "mbroker:queue:list:"

// RedisListNotifier is a distributed, Redis-backed notifier that uses
// LPUSH/BRPOP instead of PUBLISH/SUBSCRIBE: signals persist in the list even
// when no sibling process is currently listening, at the cost of delivering
// any one signal to only one sibling (acceptable here since a notify is just
// a hint to re-poll, not the message itself).
type RedisListNotifier struct {
	client *redis.Client
	mu     sync.Mutex
	subs   map[ConsumerKey][]*redisListSub
	closed bool
}

type redisListSub struct {
	ch     chan struct{}
	cancel context.CancelFunc
}

// NewRedisListNotifier creates a new Redis list-backed notifier.
func NewRedisListNotifier(client *redis.Client) *RedisListNotifier {
	return &RedisListNotifier{
		client: client,
		subs:   make(map[ConsumerKey][]*redisListSub),
	}
}

func (n *RedisListNotifier) Notify(ctx context.Context, key ConsumerKey) error {
	k := redisListPrefix + string(key)
	return n.client.LPush(ctx, k, "1").Err()
}

func (n *RedisListNotifier) Subscribe(ctx context.Context, key ConsumerKey) <-chan struct{} {
	ch := make(chan struct{}, 1)

	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		close(ch)
		return ch
	}

	subCtx, cancel := context.WithCancel(ctx)
	rs := &redisListSub{ch: ch, cancel: cancel}
	n.subs[key] = append(n.subs[key], rs)
	n.mu.Unlock()

	k := redisListPrefix + string(key)

	go func() {
		defer func() {
			n.removeListSub(key, rs)
			select {
			case <-ch:
			default:
			}
			close(ch)
		}()

		for {
			select {
			case <-subCtx.Done():
				return
			default:
			}

			result, err := n.client.BRPop(subCtx, 1*time.Second, k).Result()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					continue
				}
				if subCtx.Err() != nil {
					return
				}
				select {
				case <-subCtx.Done():
					return
				case <-time.After(100 * time.Millisecond):
				}
				continue
			}

			if len(result) >= 2 {
				select {
				case ch <- struct{}{}:
				default:
				}
			}
		}
	}()

	return ch
}

func (n *RedisListNotifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil
	}
	n.closed = true
	for _, subs := range n.subs {
		for _, s := range subs {
			s.cancel()
		}
	}
	n.subs = nil
	return nil
}

func (n *RedisListNotifier) removeListSub(key ConsumerKey, target *redisListSub) {
	n.mu.Lock()
	defer n.mu.Unlock()
	subs := n.subs[key]
	for i, s := range subs {
		if s == target {
			n.subs[key] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
}
