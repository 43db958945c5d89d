// Copyright 2025-2026 Aiku AI
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Command chatgate is a messaging gateway: a small REST API over a single
// long-lived, authenticated chat-network connection. Connection faults
// terminate the process; run it under a supervisor that restarts it.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/aiku/chatgate/pkg/credstore"
	"github.com/aiku/chatgate/pkg/gateway"
	"github.com/aiku/chatgate/pkg/httpapi"
	"github.com/aiku/chatgate/pkg/mattermost"
)

// These are filled at build time with -ldflags.
var (
	Tag       = "unknown"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	sweepDays := flag.Int("sweep-days", 0, "one-shot: hard-delete inactive credentials older than N days, then exit")
	evictDays := flag.Int("evict-days", 0, "one-shot: evict session files older than N days, then exit")
	flag.Parse()

	cfg, err := gateway.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "chatgate: %v\n", err)
		os.Exit(1)
	}

	log := setupLogging(cfg.Production)
	log.Info().
		Str("tag", Tag).
		Str("commit", Commit).
		Str("built", BuildTime).
		Str("client_id", cfg.ClientID).
		Msg("chatgate starting")

	store, fallback, err := credstore.Open(cfg.CredstoreConfig(), log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open credential store")
	}
	defer store.Close()

	// One-shot administrative modes. Neither runs automatically; both are
	// meant for external schedulers or operators.
	// zerolog's Fatal exits without running defers, so the store is closed
	// explicitly on those paths.
	if *sweepDays > 0 {
		n, err := store.Sweep(context.Background(), time.Duration(*sweepDays)*24*time.Hour)
		if err != nil {
			_ = store.Close()
			log.Fatal().Err(err).Msg("Credential sweep failed")
		}
		log.Info().Int("removed", n).Msg("Credential sweep complete")
		return
	}
	if *evictDays > 0 {
		dir := gateway.NewSessionDir(cfg.SessionPath, log)
		n, err := dir.Evict(time.Duration(*evictDays) * 24 * time.Hour)
		if err != nil {
			_ = store.Close()
			log.Fatal().Err(err).Msg("Session eviction failed")
		}
		log.Info().Int("removed", n).Msg("Session eviction complete")
		return
	}

	factory := mattermost.Factory(mattermost.Config{
		ServerURL:      cfg.Network.ServerURL,
		BootstrapToken: cfg.Network.BootstrapToken,
	}, log)

	sup := gateway.NewSupervisor(cfg.SupervisorConfig(), factory, store, fallback, log)
	dir := gateway.NewSessionDir(cfg.SessionPath, log)
	facade := gateway.NewFacade(sup, store, dir, cfg.AddressSuffix, log)
	server := httpapi.New(facade, cfg.Production, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := sup.Start(ctx); err != nil {
		_ = store.Close()
		log.Fatal().Err(err).Msg("Gateway startup failed")
	}

	go func() {
		if err := server.Run(cfg.ListenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Gateway API failed")
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigs
	log.Info().Str("signal", sig.String()).Msg("Shutting down")

	sup.Stop()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("API shutdown incomplete")
	}
}

func setupLogging(production bool) zerolog.Logger {
	if production {
		return zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	writer := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
	return zerolog.New(writer).With().Timestamp().Logger().Level(zerolog.DebugLevel)
}
