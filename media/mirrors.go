package media

import (
	"net/url"
	"strings"
	"sync"

	hostpool "github.com/bitly/go-hostpool"
)

// DefaultBase serves objects from the site itself.
const DefaultBase = "/media"

// Mirrors hands out public base URLs for objects, round-robin over the
// configured hosts
type Mirrors struct {
	bases []string
	pool  hostpool.HostPool
	mutex sync.Mutex
}

// NewMirrors normalises bases (trailing slashes removed, empties dropped).
// With no bases DefaultBase is used.
func NewMirrors(bases []string) *Mirrors {
	clean := make([]string, 0, len(bases))
	for _, b := range bases {
		b = strings.TrimRight(strings.TrimSpace(b), "/")
		if b != "" {
			clean = append(clean, b)
		}
	}
	if len(clean) == 0 {
		clean = []string{DefaultBase}
	}
	return &Mirrors{bases: clean, pool: hostpool.New(clean)}
}

// Bases returns the configured bases.
func (m *Mirrors) Bases() []string {
	return append([]string{}, m.bases...)
}

// Next returns the base URL to use for the next object.
func (m *Mirrors) Next() string {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	r := m.pool.Get()
	r.Mark(nil)
	return r.Host()
}

// URL joins the next base and key.
func (m *Mirrors) URL(key string) string {
	return m.Next() + "/" + escapeKey(key)
}

// KeyFromURL returns the key of u when it was issued by one of the bases.
func (m *Mirrors) KeyFromURL(u string) (string, bool) {
	for _, b := range m.bases {
		if strings.HasPrefix(u, b+"/") {
			k, err := url.PathUnescape(strings.TrimPrefix(u, b+"/"))
			if err != nil {
				return "", false
			}
			if _, err := cleanKey(k); err != nil {
				return "", false
			}
			return k, true
		}
	}
	return "", false
}
