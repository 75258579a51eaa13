package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cocomeza/alcontruccionessrl/gallery"
	"github.com/go-redis/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// redisForTest returns a client on REDIS_ADDR using a scratch database, or
// skips the test.
func redisForTest(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	c := redis.NewClient(&redis.Options{Addr: addr, DB: 15})
	require.NoError(t, c.Ping().Err())
	require.NoError(t, c.FlushDB().Err())
	t.Cleanup(func() {
		c.FlushDB()
		c.Close()
	})
	return c
}

func TestMemStorage_SetGetDel(t *testing.T) {
	s, err := NewStorageBackend(StorageBackendMem, nil, "")
	require.NoError(t, err)
	assert.Equal(t, StorageBackendMem, s.BackendType())

	_, err = s.Get("k")
	assert.True(t, errors.Is(err, ErrNotFound))

	require.NoError(t, s.Set("k", "v", 0))
	v, err := s.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "v", v)

	require.NoError(t, s.Del("k"))
	_, err = s.Get("k")
	assert.Equal(t, ErrNotFound, err)
}

func TestMemStorage_Expiry(t *testing.T) {
	s, _ := NewStorageBackend(StorageBackendMem, nil, "")
	mb := s.(*memBackend)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	mb.now = func() time.Time { return now }

	require.NoError(t, s.Set("k", "v", time.Minute))
	_, err := s.Get("k")
	require.NoError(t, err)

	now = now.Add(time.Minute)
	_, err = s.Get("k")
	assert.Equal(t, ErrNotFound, err)
}

func TestNewStorageBackend_RedisNeedsClient(t *testing.T) {
	_, err := NewStorageBackend(StorageBackendRedis, nil, "")
	assert.Error(t, err)
	_, err = ParseBackendType("etcd")
	assert.Error(t, err)
	typ, err := ParseBackendType("redis")
	require.NoError(t, err)
	assert.Equal(t, StorageBackendRedis, typ)
}

func TestProjectValidate(t *testing.T) {
	p := Project{Title: "   "}
	err := p.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidProject))

	p = Project{Title: "  Casa Norte ", Category: " vivienda "}
	require.NoError(t, p.Validate())
	assert.Equal(t, "Casa Norte", p.Title)
	assert.Equal(t, "vivienda", p.Category)
	assert.NotNil(t, p.Images)
	assert.NotNil(t, p.Videos)

	p = Project{Title: strings.Repeat("ñ", 200)}
	assert.NoError(t, p.Validate())
	p = Project{Title: strings.Repeat("ñ", 201)}
	err = p.Validate()
	require.Error(t, err)
	assert.Equal(t, "title is too long", err.Error())

	p = Project{Title: "Casa", Images: []string{"/media/a.jpg", ""}}
	err = p.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidProject))
}

func TestContactMessageValidate(t *testing.T) {
	m := ContactMessage{Name: " Ana ", Email: "no-es-email", Message: "  "}
	err := m.Validate()
	require.Error(t, err)
	assert.Equal(t, map[string]string{"email": "email", "message": "required"}, FieldErrors(err))
	assert.Equal(t, "Ana", m.Name)

	m = ContactMessage{Name: "Ana", Email: "ana@example.com", Message: strings.Repeat("x", 5001)}
	assert.Equal(t, map[string]string{"message": "max"}, FieldErrors(m.Validate()))

	m = ContactMessage{Name: "Ana", Email: " ana@example.com ", Message: "Hola"}
	require.NoError(t, m.Validate())
	assert.Equal(t, "ana@example.com", m.Email)
	assert.Nil(t, FieldErrors(nil))
}

func exerciseProjectStore(t *testing.T, s ProjectStore) {
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	a := &Project{Title: "Nave industrial", Category: "industrial", CreatedAt: base}
	b := &Project{Title: "Edificio centro", Category: "vivienda", Featured: true, CreatedAt: base.Add(time.Hour)}
	c := &Project{Title: "Casa quinta", Category: "Vivienda", Images: []string{"https://x/1.jpg"}, CreatedAt: base.Add(2 * time.Hour)}
	for _, p := range []*Project{a, b, c} {
		require.NoError(t, s.Insert(ctx, p))
		require.NotEmpty(t, p.ID)
	}

	all, err := s.List(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{c.ID, b.ID, a.ID}, []string{all[0].ID, all[1].ID, all[2].ID})

	viv, err := s.List(ctx, Filter{Category: "vivienda"})
	require.NoError(t, err)
	assert.Len(t, viv, 2)

	feat, err := s.List(ctx, Filter{FeaturedOnly: true})
	require.NoError(t, err)
	require.Len(t, feat, 1)
	assert.Equal(t, b.ID, feat[0].ID)

	limited, err := s.List(ctx, Filter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, c.ID, limited[0].ID)

	got, err := s.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://x/1.jpg"}, got.Images)

	got.Videos = append(got.Videos, "https://x/v.mp4")
	got.CreatedAt = time.Time{}
	require.NoError(t, s.Update(ctx, got))
	again, err := s.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://x/v.mp4"}, again.Videos)
	assert.True(t, again.CreatedAt.Equal(c.CreatedAt))

	require.NoError(t, s.Delete(ctx, a.ID))
	_, err = s.Get(ctx, a.ID)
	assert.Equal(t, ErrNotFound, err)
	assert.Equal(t, ErrNotFound, s.Delete(ctx, a.ID))
	assert.Equal(t, ErrNotFound, s.Update(ctx, &Project{ID: "missing", Title: "x"}))

	withImg, err := s.AddMedia(ctx, b.ID, gallery.MediaKindImage, "/media/b.jpg")
	require.NoError(t, err)
	assert.Equal(t, []string{"/media/b.jpg"}, withImg.Images)
	withVid, err := s.AddMedia(ctx, b.ID, gallery.MediaKindVideo, "/media/b.mp4")
	require.NoError(t, err)
	assert.Equal(t, []string{"/media/b.jpg"}, withVid.Images)
	assert.Equal(t, []string{"/media/b.mp4"}, withVid.Videos)

	left, err := s.RemoveMedia(ctx, b.ID, "/media/b.jpg")
	require.NoError(t, err)
	assert.Empty(t, left.Images)
	assert.Equal(t, []string{"/media/b.mp4"}, left.Videos)
	_, err = s.RemoveMedia(ctx, b.ID, "/media/b.jpg")
	assert.True(t, errors.Is(err, ErrMediaNotFound))
	_, err = s.AddMedia(ctx, "missing", gallery.MediaKindImage, "/media/x.jpg")
	assert.True(t, errors.Is(err, ErrNotFound))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.AddMedia(ctx, b.ID, gallery.MediaKindImage, fmt.Sprintf("/media/%d.jpg", i))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()
	got, err = s.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Len(t, got.Images, 20)
}

func TestMemProjectStore(t *testing.T) {
	exerciseProjectStore(t, NewMemProjectStore())
}

func TestMemProjectStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemProjectStore()
	p := &Project{Title: "Obra", Images: []string{"a"}}
	require.NoError(t, s.Insert(ctx, p))
	p.Images[0] = "mutated"

	got, err := s.Get(ctx, p.ID)
	require.NoError(t, err)
	got.Images[0] = "mutated again"

	again, _ := s.Get(ctx, p.ID)
	assert.Equal(t, []string{"a"}, again.Images)
}

func TestMemProjectStore_Concurrent(t *testing.T) {
	ctx := context.Background()
	s := NewMemProjectStore()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Insert(ctx, &Project{Title: "obra"})
			_, _ = s.List(ctx, Filter{})
		}()
	}
	wg.Wait()
	all, err := s.List(ctx, Filter{})
	require.NoError(t, err)
	assert.Len(t, all, 50)
}

func TestMemInbox_NewestFirst(t *testing.T) {
	ctx := context.Background()
	b := NewMemInbox()
	require.NoError(t, b.Add(ctx, &ContactMessage{Name: "a"}))
	require.NoError(t, b.Add(ctx, &ContactMessage{Name: "b"}))
	msgs, err := b.List(ctx)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "b", msgs[0].Name)
	assert.NotEmpty(t, msgs[0].ID)
}

func TestRedisStores(t *testing.T) {
	c := redisForTest(t)

	exerciseProjectStore(t, NewRedisProjectStore(c))

	kv, err := NewStorageBackend(StorageBackendRedis, c, "test:")
	require.NoError(t, err)
	require.NoError(t, kv.Set("k", "v", time.Minute))
	v, err := kv.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "v", v)
	require.NoError(t, kv.Del("k"))
	_, err = kv.Get("k")
	assert.Equal(t, ErrNotFound, err)

	ctx := context.Background()
	inbox := NewRedisInbox(c)
	require.NoError(t, inbox.Add(ctx, &ContactMessage{Name: "a"}))
	require.NoError(t, inbox.Add(ctx, &ContactMessage{Name: "b"}))
	msgs, err := inbox.List(ctx)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "b", msgs[0].Name)
}
