package queue

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"
)

const redisChannelPrefix = "mbroker:queue:notify:"

// RedisNotifier is a distributed, Redis-backed notifier that uses
// PUBLISH/SUBSCRIBE to wake consumers of the same topic running in sibling
// broker processes that share a Redis-backed storage backend. Message
// delivery and ack bookkeeping stay entirely local to each process's
// QueueManager: this only shortens the polling gap after a sibling process
// writes a message meant for a consumer currently attached elsewhere.
type RedisNotifier struct {
	client *redis.Client
	mu     sync.Mutex
	subs   map[ConsumerKey][]*redisSub
	closed bool
}

type redisSub struct {
	ch     chan struct{}
	cancel context.CancelFunc
}

// NewRedisNotifier creates a new Redis-backed notifier.
func NewRedisNotifier(client *redis.Client) *RedisNotifier {
	return &RedisNotifier{
		client: client,
		subs:   make(map[ConsumerKey][]*redisSub),
	}
}

func (n *RedisNotifier) Notify(ctx context.Context, key ConsumerKey) error {
	channel := redisChannelPrefix + string(key)
	return n.client.Publish(ctx, channel, "1").Err()
}

func (n *RedisNotifier) Subscribe(ctx context.Context, key ConsumerKey) <-chan struct{} {
	ch := make(chan struct{}, 1)

	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		close(ch)
		return ch
	}

	subCtx, cancel := context.WithCancel(ctx)
	rs := &redisSub{ch: ch, cancel: cancel}
	n.subs[key] = append(n.subs[key], rs)
	n.mu.Unlock()

	channel := redisChannelPrefix + string(key)
	pubsub := n.client.Subscribe(subCtx, channel)

	go func() {
		defer pubsub.Close()
		msgCh := pubsub.Channel()
		for {
			select {
			case <-subCtx.Done():
				n.removeSub(key, rs)
				return
			case _, ok := <-msgCh:
				if !ok {
					return
				}
				select {
				case ch <- struct{}{}:
				default:
				}
			}
		}
	}()

	return ch
}

func (n *RedisNotifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil
	}
	n.closed = true
	for _, subs := range n.subs {
		for _, s := range subs {
			s.cancel()
			close(s.ch)
		}
	}
	n.subs = nil
	return nil
}

func (n *RedisNotifier) removeSub(key ConsumerKey, target *redisSub) {
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
