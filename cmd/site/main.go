package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cocomeza/alcontruccionessrl/auth"
	"github.com/cocomeza/alcontruccionessrl/config"
	"github.com/cocomeza/alcontruccionessrl/media"
	"github.com/cocomeza/alcontruccionessrl/server"
	"github.com/cocomeza/alcontruccionessrl/store"
	"github.com/go-redis/redis"
	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("[WARN] No .env file found, using system environment variables")
	}

	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		log.Fatal(err)
	}

	var client *redis.Client
	var broker auth.Broker = auth.NewBroker()
	projects := store.NewMemProjectStore()
	inbox := store.NewMemInbox()
	if cfg.Backend == store.StorageBackendRedis {
		client, err = store.NewRedisClient(cfg.RedisAddr, cfg.RedisSentinels, cfg.RedisMaster)
		if err != nil {
			log.Fatal(err)
		}
		defer client.Close()
		rb := auth.NewRedisBroker(client)
		defer rb.Close()
		broker = rb
		projects = store.NewRedisProjectStore(client)
		inbox = store.NewRedisInbox(client)
		log.Printf("using redis backend at %s", cfg.RedisAddr)
	}
	sessions, err := store.NewStorageBackend(cfg.Backend, client, "site:")
	if err != nil {
		log.Fatal(err)
	}

	objects, err := media.NewFileStore(cfg.MediaDir, media.NewMirrors(cfg.MediaHosts))
	if err != nil {
		log.Fatalf("media store: %v", err)
	}
	log.Printf("media objects under %s", objects.Root())

	site, err := server.NewServer(server.Options{
		Projects:    projects,
		Inbox:       inbox,
		Objects:     objects,
		Identity:    auth.NewProvider(cfg.Admins(), sessions, cfg.SessionTTL, broker),
		Broker:      broker,
		Retry:       auth.DefaultRetryPolicy(),
		MediaDir:    objects.Root(),
		Company:     cfg.Company,
		SessionTTL:  cfg.SessionTTL,
		CORSOrigins: cfg.CORSOrigins,
	})
	if err != nil {
		log.Fatal(err)
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           site.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	srv.RegisterOnShutdown(site.CloseSessions)

	done := make(chan os.Signal, 1)
	signal.Notify(done, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("site listening on %s", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-done
	log.Println("shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
	log.Println("site stopped")
}
