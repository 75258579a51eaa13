package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cocomeza/alcontruccionessrl/gallery"
	"github.com/go-redis/redis"
)

const (
	maxTxRetries = 5
	txRetryDelay = 5 * time.Millisecond
)

// redis keys
const (
	projectsHashKey    = "obras"
	projectsCreatedKey = "obras:created"
	inboxListKey       = "contacto:mensajes"
)

// NewRedisClient connects to a single redis server, or through sentinels
// when sentinelAddrs is not empty.
func NewRedisClient(addr string, sentinelAddrs []string, masterName string) (*redis.Client, error) {
	var c *redis.Client
	if len(sentinelAddrs) > 0 {
		c = redis.NewFailoverClient(&redis.FailoverOptions{
			MasterName:    masterName,
			SentinelAddrs: sentinelAddrs,
		})
	} else {
		c = redis.NewClient(&redis.Options{Addr: addr})
	}
	if err := c.Ping().Err(); err != nil {
		c.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return c, nil
}

type redisProjectStore struct {
	client *redis.Client
	now    func() time.Time
}

// NewRedisProjectStore keeps projects as JSON in a hash, ordered by a
// sorted set scored by creation time.
func NewRedisProjectStore(client *redis.Client) ProjectStore {
	return &redisProjectStore{client: client, now: time.Now}
}

func createdScore(t time.Time) float64 {
	return float64(t.UnixNano() / int64(time.Microsecond))
}

func (s *redisProjectStore) List(ctx context.Context, f Filter) ([]Project, error) {
	ids, err := s.client.ZRevRange(projectsCreatedKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list obras: %w", err)
	}
	out := make([]Project, 0, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	vals, err := s.client.HMGet(projectsHashKey, ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("list obras: %w", err)
	}
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			// index entry without a record, skip it
			continue
		}
		var p Project
		if err := json.Unmarshal([]byte(str), &p); err != nil {
			return nil, fmt.Errorf("decode obra %s: %w", ids[i], err)
		}
		if !f.match(&p) {
			continue
		}
		out = append(out, p)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

func (s *redisProjectStore) Get(ctx context.Context, id string) (*Project, error) {
	v, err := s.client.HGet(projectsHashKey, id).Result()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get obra %s: %w", id, err)
	}
	var p Project
	if err := json.Unmarshal([]byte(v), &p); err != nil {
		return nil, fmt.Errorf("decode obra %s: %w", id, err)
	}
	return &p, nil
}

func (s *redisProjectStore) Insert(ctx context.Context, p *Project) error {
	if err := prepareInsert(p, s.now()); err != nil {
		return err
	}
	b, err := json.Marshal(p)
	if err != nil {
		return err
	}
	ok, err := s.client.HSetNX(projectsHashKey, p.ID, string(b)).Result()
	if err != nil {
		return fmt.Errorf("insert obra %s: %w", p.ID, err)
	}
	if !ok {
		return fmt.Errorf("project %s already exists", p.ID)
	}
	if err := s.client.ZAdd(projectsCreatedKey, redis.Z{Score: createdScore(p.CreatedAt), Member: p.ID}).Err(); err != nil {
		return fmt.Errorf("index obra %s: %w", p.ID, err)
	}
	return nil
}

func (s *redisProjectStore) Update(ctx context.Context, p *Project) error {
	if err := p.Validate(); err != nil {
		return err
	}
	old, err := s.Get(ctx, p.ID)
	if err != nil {
		return err
	}
	p.CreatedAt = old.CreatedAt
	b, err := json.Marshal(p)
	if err != nil {
		return err
	}
	if err := s.client.HSet(projectsHashKey, p.ID, string(b)).Err(); err != nil {
		return fmt.Errorf("update obra %s: %w", p.ID, err)
	}
	return nil
}

func (s *redisProjectStore) Delete(ctx context.Context, id string) error {
	n, err := s.client.HDel(projectsHashKey, id).Result()
	if err != nil {
		return fmt.Errorf("delete obra %s: %w", id, err)
	}
	if err := s.client.ZRem(projectsCreatedKey, id).Err(); err != nil {
		return fmt.Errorf("unindex obra %s: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *redisProjectStore) AddMedia(ctx context.Context, id string, kind gallery.MediaKind, u string) (*Project, error) {
	return s.mutate(ctx, id, func(p *Project) error { return addMedia(p, kind, u) })
}

func (s *redisProjectStore) RemoveMedia(ctx context.Context, id string, u string) (*Project, error) {
	return s.mutate(ctx, id, func(p *Project) error { return removeMedia(p, u) })
}

// mutate runs fn on project id inside a WATCH transaction on the hash,
// retrying when another writer got in between.
func (s *redisProjectStore) mutate(ctx context.Context, id string, fn func(*Project) error) (*Project, error) {
	var out *Project
	txn := func(tx *redis.Tx) error {
		v, err := tx.HGet(projectsHashKey, id).Result()
		if err == redis.Nil {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		var p Project
		if err := json.Unmarshal([]byte(v), &p); err != nil {
			return fmt.Errorf("decode obra %s: %w", id, err)
		}
		if err := fn(&p); err != nil {
			return err
		}
		b, err := json.Marshal(&p)
		if err != nil {
			return err
		}
		_, err = tx.Pipelined(func(pipe redis.Pipeliner) error {
			pipe.HSet(projectsHashKey, id, string(b))
			return nil
		})
		if err != nil {
			return err
		}
		out = &p
		return nil
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(txRetryDelay), maxTxRetries), ctx)
	err := backoff.Retry(func() error {
		err := s.client.Watch(txn, projectsHashKey)
		if err == redis.TxFailedErr {
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}, policy)
	if err != nil {
		return nil, err
	}
	return out, nil
}
