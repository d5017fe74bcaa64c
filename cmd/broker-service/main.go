// cmd/broker-service/main.go
package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"canopy/internal/brokerapi"
	"canopy/internal/setuptoken"
	"canopy/pkg/config"
	"canopy/pkg/cryptobox"
	"canopy/pkg/db"
	"canopy/pkg/logger"
	"canopy/pkg/tenants"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg.Env)

	// Keys are mandatory in prod; dev gets ephemeral ones so a bare
	// checkout still boots.
	if cfg.MasterKey == nil || cfg.SessionKey == nil {
		if cfg.Env != "dev" {
			log.Fatalw("CANOPY_MASTER_KEY and CANOPY_SESSION_KEY are required outside dev")
		}
		cfg.MasterKey = mustEphemeralKey(log, "master")
		cfg.SessionKey = mustEphemeralKey(log, "session")
	}

	pool := db.MustConnect(cfg, log)
	rdb := db.MustRedis(cfg, log)

	var store tenants.Store
	var tokenStore setuptoken.Store
	if pool != nil {
		if err := tenants.EnsureSchema(context.Background(), pool); err != nil {
			log.Fatalw("schema", "err", err)
		}
		store = tenants.NewPostgresStore(pool, log)
		tokenStore = setuptoken.NewPostgresStore(pool)
	} else {
		store = tenants.NewMemoryStore(log)
		tokenStore = setuptoken.NewMemoryStore()
	}

	app := brokerapi.New(log, cfg, store, tokenStore, rdb)
	if seed := os.Getenv("CANOPY_TENANT_SEED_FILE"); seed != "" {
		if err := app.SeedFromFile(context.Background(), seed); err != nil {
			log.Warnw("tenant seed", "file", seed, "err", err)
		}
	}

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: app.Handler()}
	go func() {
		log.Infow("broker-service listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalw("ListenAndServe", "err", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
	fmt.Println("broker-service stopped")
}

func mustEphemeralKey(log *zap.SugaredLogger, name string) []byte {
	key, err := cryptobox.NewKey()
	if err != nil {
		panic(err)
	}
	log.Warnw("generated ephemeral key, sealed data will not survive restart",
		"key", name, "value", base64.StdEncoding.EncodeToString(key))
	return key
}
