package main

import (
	"context"
	"time"

	zlog "github.com/rs/zerolog/log"

	"signalhub/internal/call"
	"signalhub/internal/chat"
	"signalhub/internal/config"
	"signalhub/internal/group"
	"signalhub/internal/log"
	"signalhub/internal/presence"
	"signalhub/internal/push"
	"signalhub/internal/server"
	"signalhub/internal/signal"
	"signalhub/internal/ws"
)

func main() {
	cfg := config.Load()
	log.Init(cfg.Env)
	if err := config.Validate(cfg); err != nil {
		zlog.Fatal().Err(err).Msg("invalid configuration")
	}

	var dispatcher push.Dispatcher = push.Disabled{}
	if cfg.FCMCredentialsFile != "" {
		fcm, err := push.NewFCM(context.Background(), cfg.FCMCredentialsFile, cfg.FCMProjectID)
		if err != nil {
			zlog.Fatal().Err(err).Msg("init fcm dispatcher")
		}
		dispatcher = fcm
		zlog.Info().Str("project_id", cfg.FCMProjectID).Msg("fcm push enabled")
	} else {
		zlog.Info().Msg("push disabled, no credentials configured")
	}

	hub := ws.NewHub()
	handler := signal.NewHandler(
		presence.NewRegistry(),
		group.NewRegistry(),
		call.NewTable(),
		chat.NewLog(),
		hub,
		dispatcher,
		time.Duration(cfg.RingTimeoutSeconds)*time.Second,
	)

	r := server.NewRouter(cfg, hub, handler)

	zlog.Info().Str("port", cfg.Port).Str("env", cfg.Env).
		Int("ring_timeout_s", cfg.RingTimeoutSeconds).Msg("signalhub listening")
	if err := r.Run(":" + cfg.Port); err != nil {
		zlog.Fatal().Err(err).Msg("server exited")
	}
}
