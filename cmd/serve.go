// Copyright 2025 VoxGate Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/voxgate/dirauth/pkg/account"
	"github.com/voxgate/dirauth/pkg/auth"
	"github.com/voxgate/dirauth/pkg/debug"
	"github.com/voxgate/dirauth/pkg/events"
	"github.com/voxgate/dirauth/pkg/httpapi"
	"github.com/voxgate/dirauth/pkg/lockout"
	"github.com/voxgate/dirauth/pkg/logger"
	"github.com/voxgate/dirauth/pkg/utils"
)

// memoryPruneInterval bounds how long expired lockout entries survive in
// the in-process tracker.
const memoryPruneInterval = 10 * time.Minute

// ServeOpts holds the flag-driven settings for the serve command. The
// directory, lockout, accounts, events and api sections come from the
// dirauth config file.
type ServeOpts struct {
	IP         string
	APIPort    int
	DebugPort  int
	LogLevel   string
	ServerName string
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the login API and debug servers",
	Long: `Start the dirauth service:
- HTTP login API (POST /v1/login) that answers credential checks
- debug HTTP server with /metrics, /health, /ready and pprof

Configuration is read from dirauth.toml ([directory], [accounts],
[lockout_store], [events], [api], [pool] sections) with CLI flags taking
precedence.`,
	Run: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	f := serveCmd.Flags()
	f.String("ip", "", "IP address to bind to (empty binds all interfaces)")
	f.Int("api_port", 8090, "HTTP port for the login API")
	f.Int("debug_port", 8091, "Debug HTTP port (metrics, pprof, health)")
	f.String("log_level", "info", "Log level (debug, info, warn, error, fatal)")
	f.String("server_name", "localhost", "Server name used to qualify user IDs")

	viper.BindPFlags(f)
}

func loadServeOpts(cmd *cobra.Command) ServeOpts {
	f := NewFlagLoader(cmd)
	return ServeOpts{
		IP:         f.String("ip"),
		APIPort:    f.Int("api_port"),
		DebugPort:  f.Int("debug_port"),
		LogLevel:   f.String("log_level"),
		ServerName: f.String("server_name"),
	}
}

func runServe(cmd *cobra.Command, args []string) {
	utils.LoadConfiguration("dirauth", false)
	opts := loadServeOpts(cmd)

	debug.SetNotReady()

	if level, err := zerolog.ParseLevel(opts.LogLevel); err == nil {
		logger.SetLevel(level)
	}

	var authCfg auth.Config
	if err := viper.UnmarshalKey("directory", &authCfg); err != nil {
		logger.Fatal().Err(err).Msg("failed to parse directory config")
	}
	if err := authCfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid directory config")
	}

	logger.Info().
		Str("uri", authCfg.URI).
		Str("base", authCfg.Base).
		Str("mode", string(authCfg.Mode())).
		Bool("lockout", authCfg.Lockout.Enabled()).
		Str("server_name", opts.ServerName).
		Msg("Starting directory auth service")

	store := buildAccountStore(cmd.Context(), opts.ServerName)
	tracker, stopTracker := buildLockoutTracker(authCfg.Lockout)
	emitter := buildEmitter()

	authenticator, err := auth.New(authCfg, store, auth.Options{
		ServerName: opts.ServerName,
		Tracker:    tracker,
		Emitter:    emitter,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build authenticator")
	}

	var poolCfg auth.PoolConfig
	if err := viper.UnmarshalKey("pool", &poolCfg); err != nil {
		logger.Fatal().Err(err).Msg("failed to parse pool config")
	}
	pool := auth.NewPool(authenticator, poolCfg)

	apiCfg := httpapi.DefaultConfig()
	if err := viper.UnmarshalKey("api", &apiCfg); err != nil {
		logger.Fatal().Err(err).Msg("failed to parse api config")
	}
	api, err := httpapi.NewServer(apiCfg, pool)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build login API")
	}

	apiAddr := utils.JoinHostPort(opts.IP, opts.APIPort)
	if viper.IsSet("api.listen") {
		apiAddr = apiCfg.Listen
	}
	debugAddr := utils.JoinHostPort(opts.IP, opts.DebugPort)

	apiServer := startHTTPServer(api, apiAddr, "login API")
	debugServer := startHTTPServer(debug.GetMux(), debugAddr, "debug")

	logger.Info().
		Str("api_addr", apiAddr).
		Str("debug_addr", debugAddr).
		Msg("Directory auth service started")

	debug.SetReady()
	waitForShutdown()
	debug.SetNotReady()

	logger.Info().Msg("Shutting down directory auth service")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	apiServer.Shutdown(shutdownCtx)
	debugServer.Shutdown(shutdownCtx)

	api.Close()
	if err := emitter.Close(); err != nil {
		logger.Warn().Err(err).Msg("event emitter close failed")
	}
	stopTracker()
	closeStore(store)

	logger.Info().Msg("Directory auth service stopped")
}

// buildAccountStore returns the configured account backend. Without an
// [accounts] block logins reconcile into a process-local store that is
// lost on restart.
func buildAccountStore(ctx context.Context, serverName string) account.Store {
	var cfg account.SQLConfig
	if viper.IsSet("accounts") {
		if err := viper.UnmarshalKey("accounts", &cfg); err != nil {
			logger.Fatal().Err(err).Msg("failed to parse accounts config")
		}
	}
	if cfg.Backend == "" {
		logger.Warn().Msg("no accounts backend configured, using in-memory store")
		return account.NewMemoryStore(serverName)
	}

	store, err := account.NewSQLStore(cfg, serverName)
	if err != nil {
		logger.Fatal().Err(err).Str("backend", cfg.Backend).Msg("failed to open account store")
	}
	if err := store.Migrate(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to migrate account schema")
	}
	logger.Info().Str("backend", cfg.Backend).Msg("account store ready")
	return store
}

// buildLockoutTracker picks the lockout backend: redis when a
// [lockout_store] is configured so workers share state, otherwise an
// in-process tracker with periodic pruning.
func buildLockoutTracker(policy *lockout.Policy) (lockout.Tracker, func()) {
	if !policy.Enabled() {
		return lockout.NoopTracker{}, func() {}
	}

	var cfg lockout.RedisConfig
	if viper.IsSet("lockout_store") {
		if err := viper.UnmarshalKey("lockout_store", &cfg); err != nil {
			logger.Fatal().Err(err).Msg("failed to parse lockout_store config")
		}
	}
	if cfg.Enabled {
		tracker, err := lockout.NewRedisTracker(cfg, policy)
		if err != nil {
			logger.Fatal().Err(err).Str("addr", cfg.Addr).Msg("failed to connect lockout store")
		}
		logger.Info().Str("addr", cfg.Addr).Msg("lockout state shared through redis")
		return tracker, func() {
			if err := tracker.Close(); err != nil {
				logger.Warn().Err(err).Msg("lockout store close failed")
			}
		}
	}

	tracker := lockout.NewMemoryTracker(policy)
	stop := tracker.StartPruning(memoryPruneInterval)
	return tracker, stop
}

// buildEmitter returns the audit event stream, or a no-op when the
// [events] block is absent or disabled.
func buildEmitter() events.Emitter {
	var cfg events.KafkaConfig
	if viper.IsSet("events") {
		if err := viper.UnmarshalKey("events", &cfg); err != nil {
			logger.Fatal().Err(err).Msg("failed to parse events config")
		}
	}
	if !cfg.Enabled {
		return events.NoopEmitter{}
	}

	emitter, err := events.NewKafkaEmitter(cfg)
	if err != nil {
		logger.Fatal().Err(err).Strs("brokers", cfg.Brokers).Msg("failed to connect event stream")
	}
	logger.Info().Strs("brokers", cfg.Brokers).Str("topic", cfg.Topic).Msg("audit events streaming to kafka")
	return emitter
}

func startHTTPServer(handler http.Handler, addr, name string) *http.Server {
	server := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	go func() {
		logger.Info().Str("addr", addr).Msgf("Starting %s HTTP server", name)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msgf("failed to start %s HTTP server", name)
		}
	}()

	return server
}

func waitForShutdown() {
	stopChan := make(chan os.Signal, 1)
	signal.Notify(stopChan, os.Interrupt, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)
	<-stopChan
}

func closeStore(store account.Store) {
	if closer, ok := store.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			logger.Warn().Err(err).Msg("account store close failed")
		}
	}
}
