package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis"
	"github.com/rs/xid"
)

// ContactMessage is a submission of the public contact form.
type ContactMessage struct {
	ID        string    `json:"id"`
	Name      string    `json:"name" validate:"required,max=120"`
	Email     string    `json:"email" validate:"required,email,max=254"`
	Phone     string    `json:"phone,omitempty" validate:"omitempty,max=40"`
	Message   string    `json:"message" validate:"required,max=5000"`
	CreatedAt time.Time `json:"created_at"`
}

// Validate trims the submitted fields and checks them. Failures are
// validator.ValidationErrors, see FieldErrors.
func (m *ContactMessage) Validate() error {
	m.Name = strings.TrimSpace(m.Name)
	m.Email = strings.TrimSpace(m.Email)
	m.Phone = strings.TrimSpace(m.Phone)
	m.Message = strings.TrimSpace(m.Message)
	return validate.Struct(m)
}

// Inbox stores contact messages, newest first.
type Inbox interface {
	Add(ctx context.Context, m *ContactMessage) error
	List(ctx context.Context) ([]ContactMessage, error)
}

func stamp(m *ContactMessage) {
	if m.ID == "" {
		m.ID = xid.New().String()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
}

type memInbox struct {
	msgs  []ContactMessage
	mutex sync.Mutex
}

// NewMemInbox creates an in-memory Inbox.
func NewMemInbox() Inbox { return &memInbox{} }

func (b *memInbox) Add(ctx context.Context, m *ContactMessage) error {
	stamp(m)
	b.mutex.Lock()
	b.msgs = append(b.msgs, *m)
	b.mutex.Unlock()
	return nil
}

func (b *memInbox) List(ctx context.Context) ([]ContactMessage, error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	out := make([]ContactMessage, len(b.msgs))
	for i := range b.msgs {
		out[len(b.msgs)-1-i] = b.msgs[i]
	}
	return out, nil
}

type redisInbox struct {
	client *redis.Client
}

// NewRedisInbox keeps contact messages in a redis list.
func NewRedisInbox(client *redis.Client) Inbox { return &redisInbox{client: client} }

func (b *redisInbox) Add(ctx context.Context, m *ContactMessage) error {
	stamp(m)
	buf, err := json.Marshal(m)
	if err != nil {
		return err
	}
	if err := b.client.LPush(inboxListKey, string(buf)).Err(); err != nil {
		return fmt.Errorf("store contact message: %w", err)
	}
	return nil
}

func (b *redisInbox) List(ctx context.Context) ([]ContactMessage, error) {
	vals, err := b.client.LRange(inboxListKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list contact messages: %w", err)
	}
	out := make([]ContactMessage, 0, len(vals))
	for _, v := range vals {
		var m ContactMessage
		if err := json.Unmarshal([]byte(v), &m); err != nil {
			return nil, fmt.Errorf("decode contact message: %w", err)
		}
		out = append(out, m)
	}
	return out, nil
}
