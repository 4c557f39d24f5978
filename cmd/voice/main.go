package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/EWilliamHertz/ActionPad-sub000/internal/config"
	"github.com/EWilliamHertz/ActionPad-sub000/internal/core"
	"github.com/EWilliamHertz/ActionPad-sub000/internal/directory"
	"github.com/EWilliamHertz/ActionPad-sub000/internal/domain"
	"github.com/EWilliamHertz/ActionPad-sub000/internal/media"
	"github.com/EWilliamHertz/ActionPad-sub000/internal/relay/memory"
	"github.com/EWilliamHertz/ActionPad-sub000/internal/relay/redisrelay"
	"github.com/EWilliamHertz/ActionPad-sub000/internal/rtc"
	router "github.com/EWilliamHertz/ActionPad-sub000/internal/transport/http"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	var store core.RelayStore
	switch cfg.Store {
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			log.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("redis unreachable")
		}
		store = redisrelay.NewStore(client)
	default:
		store = memory.NewStore()
	}

	gw := &router.Gateway{
		Store:      store,
		Dialer:     rtc.PionDialer{},
		Capturer:   &media.OpusCapturer{},
		Resolver:   directory.NewStaticResolver(nil),
		Tenant:     domain.TenantID(cfg.Tenant),
		ICEServers: cfg.STUNServers,
	}

	r := router.SetupRouter(ctx, cfg, gw)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Str("store", cfg.Store).Msg("voice gateway started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	log.Info().Msg("server exited gracefully")
}
