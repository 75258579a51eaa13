package store

import (
	"errors"
	"sync"
	"time"

	"github.com/go-redis/redis"
)

// StorageBackendType selects the implementation behind Storage and the
// other stores of this package
type StorageBackendType int

// StorageBackendType enum instances
const (
	StorageBackendMem StorageBackendType = iota
	StorageBackendRedis
)

// ParseBackendType maps the configuration spelling onto a backend type.
func ParseBackendType(s string) (StorageBackendType, error) {
	switch s {
	case "", "mem", "memory":
		return StorageBackendMem, nil
	case "redis":
		return StorageBackendRedis, nil
	}
	return StorageBackendMem, errors.New("unsupported backend type " + s)
}

// ErrNotFound is returned when a key or record does not exist.
var ErrNotFound = errors.New("not found")

// ReadOnlyStorage is the lookup half of Storage
type ReadOnlyStorage interface {
	BackendType() StorageBackendType
	Get(key string) (string, error)
}

// Storage is a string key/value store with optional expiry. A ttl of 0
// keeps the value until it is deleted.
type Storage interface {
	ReadOnlyStorage
	Set(key, value string, ttl time.Duration) error
	Del(key string) error
}

type memEntry struct {
	v       string
	expires time.Time
}

type memBackend struct {
	m     map[string]memEntry
	mutex *sync.RWMutex
	now   func() time.Time
}

func (b *memBackend) Get(k string) (string, error) {
	b.mutex.RLock()
	e, ok := b.m[k]
	b.mutex.RUnlock()
	if !ok {
		return "", ErrNotFound
	}
	if !e.expires.IsZero() && !b.now().Before(e.expires) {
		b.mutex.Lock()
		delete(b.m, k)
		b.mutex.Unlock()
		return "", ErrNotFound
	}
	return e.v, nil
}

func (b *memBackend) Set(k, v string, ttl time.Duration) error {
	e := memEntry{v: v}
	if ttl > 0 {
		e.expires = b.now().Add(ttl)
	}
	b.mutex.Lock()
	b.m[k] = e
	b.mutex.Unlock()
	return nil
}

func (b *memBackend) Del(k string) error {
	b.mutex.Lock()
	delete(b.m, k)
	b.mutex.Unlock()
	return nil
}

func (b *memBackend) BackendType() StorageBackendType {
	return StorageBackendMem
}

type redisBackend struct {
	client *redis.Client
	prefix string
}

// NewRedisStorage creates a Storage whose keys live under prefix in redis.
func NewRedisStorage(client *redis.Client, prefix string) Storage {
	return &redisBackend{client: client, prefix: prefix}
}

func (b *redisBackend) Get(k string) (string, error) {
	v, err := b.client.Get(b.prefix + k).Result()
	if err == redis.Nil {
		return "", ErrNotFound
	}
	return v, err
}

func (b *redisBackend) Set(k, v string, ttl time.Duration) error {
	return b.client.Set(b.prefix+k, v, ttl).Err()
}

func (b *redisBackend) Del(k string) error {
	return b.client.Del(b.prefix + k).Err()
}

func (b *redisBackend) BackendType() StorageBackendType {
	return StorageBackendRedis
}

// NewStorageBackend creates a Storage of the given type. The redis backend
// needs a client; prefix namespaces its keys.
func NewStorageBackend(typ StorageBackendType, client *redis.Client, prefix string) (Storage, error) {
	switch typ {
	case StorageBackendMem:
		return &memBackend{
			m:     make(map[string]memEntry),
			mutex: &sync.RWMutex{},
			now:   time.Now,
		}, nil
	case StorageBackendRedis:
		if client == nil {
			return nil, errors.New("redis backend needs a client")
		}
		return NewRedisStorage(client, prefix), nil
	default:
		return nil, errors.New("unsupported backend type")
	}
}
