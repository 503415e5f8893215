package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// InternalQueue is registered by the platform itself and hidden on request.
const InternalQueue = "__internal"

// ListStore keeps a JSON encoded list per key.
type ListStore interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Update replaces the value of key with the result of fn atomically. A nil
	// result leaves the key untouched.
	Update(ctx context.Context, key string, fn func(cur []byte, ok bool) ([]byte, error)) error
	Delete(ctx context.Context, key string) error
}

// QueueRegistry records the queues declared in each vhost.
type QueueRegistry struct {
	store ListStore
}

func NewQueueRegistry(store ListStore) *QueueRegistry {
	return &QueueRegistry{store: store}
}

func decodeQueues(raw []byte) ([]string, error) {
	var queues []string
	if len(raw) == 0 {
		return queues, nil
	}
	if err := json.Unmarshal(raw, &queues); err != nil {
		return nil, err
	}
	return queues, nil
}

// RegisterQueue adds queue to the vhost's list and reports what happened.
func (q *QueueRegistry) RegisterQueue(ctx context.Context, vhost, queue string) (string, error) {
	if vhost == "" || queue == "" {
		return "", ErrInvalidArgument.Msg("vhost and queue name are required")
	}
	added := false
	err := q.store.Update(ctx, vhost, func(cur []byte, _ bool) ([]byte, error) {
		added = false
		queues, err := decodeQueues(cur)
		if err != nil {
			return nil, err
		}
		if slices.Contains(queues, queue) {
			return nil, nil
		}
		added = true
		return json.Marshal(append(queues, queue))
	})
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Str("vhost", vhost).Str("queue", queue).Msg("failed to register queue")
		return "", ErrQueueStore.Err(err)
	}
	if !added {
		return fmt.Sprintf("Queue with name %s already exist", queue), nil
	}
	return fmt.Sprintf("Queue with name %s registered", queue), nil
}

// GetQueues lists the vhost's queues. An unknown vhost has none.
func (q *QueueRegistry) GetQueues(ctx context.Context, vhost string, removeInternal bool) ([]string, error) {
	raw, ok, err := q.store.Get(ctx, vhost)
	if err != nil {
		return nil, ErrQueueStore.Err(err)
	}
	queues := []string{}
	if ok {
		decoded, err := decodeQueues(raw)
		if err != nil {
			log.Ctx(ctx).Warn().Err(err).Str("vhost", vhost).Msg("ignoring malformed queue list")
			return queues, nil
		}
		if decoded != nil {
			queues = decoded
		}
	}
	log.Ctx(ctx).Debug().Str("vhost", vhost).Strs("queues", queues).Msg("queues loaded")
	if removeInternal {
		queues = slices.DeleteFunc(queues, func(s string) bool { return s == InternalQueue })
	}
	return queues, nil
}

// Forget drops the vhost's queue list.
func (q *QueueRegistry) Forget(ctx context.Context, vhost string) error {
	if err := q.store.Delete(ctx, vhost); err != nil {
		return ErrQueueStore.Err(err)
	}
	return nil
}

type RedisOptions struct {
	Addr      string
	Username  string
	Password  string
	DB        int
	KeyPrefix string
}

// RedisStore is a ListStore on Redis strings.
type RedisStore struct {
	client *redis.Client
	prefix string
}

const maxUpdateAttempts = 10

func NewRedisStore(opts RedisOptions) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Username: opts.Username,
		Password: opts.Password,
		DB:       opts.DB,
	})
	return &RedisStore{client: client, prefix: opts.KeyPrefix}
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (s *RedisStore) Update(ctx context.Context, key string, fn func([]byte, bool) ([]byte, error)) error {
	key = s.prefix + key
	txf := func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, key).Bytes()
		ok := err == nil
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		next, err := fn(cur, ok)
		if err != nil || next == nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, next, 0)
			return nil
		})
		return err
	}
	for i := 0; i < maxUpdateAttempts; i++ {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return redis.TxFailedErr
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.prefix+key).Err()
}
