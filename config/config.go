// Package config loads the site configuration from command line flags whose
// defaults come from the environment.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/cocomeza/alcontruccionessrl/store"
)

// Defaults
const (
	DefaultAddr        = ":8080"
	DefaultRedisAddr   = "localhost:6379"
	DefaultRedisMaster = "mymaster"
	DefaultMediaDir    = "./data/media"
	DefaultSessionTTL  = "24h"
	DefaultCompany     = "AL Construcciones SRL"
)

// Config is the parsed site configuration.
type Config struct {
	Addr           string
	Backend        store.StorageBackendType
	RedisAddr      string
	RedisSentinels []string
	RedisMaster    string
	MediaDir       string
	MediaHosts     []string
	AdminEmail     string
	AdminHash      string
	SessionTTL     time.Duration
	CORSOrigins    []string
	Company        string
}

// Admins returns the credential map for auth.NewProvider.
func (c *Config) Admins() map[string]string {
	return map[string]string{c.AdminEmail: c.AdminHash}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Load parses args (without the program name).
func Load(args []string) (*Config, error) {
	fs := flag.NewFlagSet("site", flag.ContinueOnError)
	addr := fs.String("addr", getenv("SITE_ADDR", DefaultAddr), "http service address")
	backend := fs.String("backend", getenv("SITE_BACKEND", "mem"), "storage backend: mem or redis")
	redisAddr := fs.String("redis", getenv("REDIS_ADDR", DefaultRedisAddr), "redis address")
	sentinels := fs.String("redis-sentinel", getenv("REDIS_SENTINEL", ""), "comma separated redis sentinel addresses")
	master := fs.String("redis-master", getenv("REDIS_MASTER", DefaultRedisMaster), "redis sentinel master name")
	mediaDir := fs.String("media-dir", getenv("MEDIA_DIR", DefaultMediaDir), "directory for uploaded media")
	mediaHosts := fs.String("media-hosts", getenv("MEDIA_HOSTS", ""), "comma separated public base URLs for media")
	adminEmail := fs.String("admin-email", getenv("ADMIN_EMAIL", ""), "administrator email")
	adminHash := fs.String("admin-hash", getenv("ADMIN_PASSWORD_HASH", ""), "administrator bcrypt password hash")
	ttl := fs.String("session-ttl", getenv("SESSION_TTL", DefaultSessionTTL), "admin session lifetime")
	origins := fs.String("cors-origins", getenv("CORS_ORIGINS", "*"), "comma separated allowed CORS origins for /api")
	company := fs.String("company", getenv("COMPANY_NAME", DefaultCompany), "company name shown on pages")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	typ, err := store.ParseBackendType(*backend)
	if err != nil {
		return nil, err
	}
	d, err := time.ParseDuration(*ttl)
	if err != nil {
		return nil, fmt.Errorf("invalid session ttl %q: %w", *ttl, err)
	}
	if d <= 0 {
		return nil, fmt.Errorf("invalid session ttl %q", *ttl)
	}
	c := &Config{
		Addr:           *addr,
		Backend:        typ,
		RedisAddr:      *redisAddr,
		RedisSentinels: splitList(*sentinels),
		RedisMaster:    *master,
		MediaDir:       *mediaDir,
		MediaHosts:     splitList(*mediaHosts),
		AdminEmail:     strings.TrimSpace(*adminEmail),
		AdminHash:      strings.TrimSpace(*adminHash),
		SessionTTL:     d,
		CORSOrigins:    splitList(*origins),
		Company:        *company,
	}
	if c.AdminEmail == "" {
		return nil, errors.New("admin email is required (-admin-email or ADMIN_EMAIL)")
	}
	if c.AdminHash == "" {
		return nil, errors.New("admin password hash is required (-admin-hash or ADMIN_PASSWORD_HASH)")
	}
	return c, nil
}
