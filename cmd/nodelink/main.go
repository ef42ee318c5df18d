// Command nodelink runs a research-node protocol endpoint.
//
// The endpoint serves all four protocol phases: the channel handshake,
// registration and identification, challenge-response authentication, and
// session operations, plus a token-guarded administrative plane for
// approving and revoking nodes.
//
// Node identities live in memory by default; pass --db-host to back the
// registry with PostgreSQL.
//
//	go run ./cmd/nodelink --listen=:8080 --admin-token=secret
package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/curanet/nodelink/api/httpserver"
	"github.com/curanet/nodelink/auth"
	"github.com/curanet/nodelink/channel"
	"github.com/curanet/nodelink/cmd/common"
	"github.com/curanet/nodelink/identity"
	"github.com/curanet/nodelink/protocol"
	"github.com/curanet/nodelink/server"
	"github.com/curanet/nodelink/session"
)

func main() {
	var (
		listenAddr  = flag.String("listen", ":8080", "HTTP listen address")
		metricsAddr = flag.String("metrics", "", "Prometheus metrics address (empty disables)")
		enablePprof = flag.Bool("pprof", false, "Enable pprof debug endpoints")
		logJSON     = flag.Bool("log-json", false, "Log in JSON")
		logDebug    = flag.Bool("log-debug", false, "Log at debug level")
		adminToken  = flag.String("admin-token", os.Getenv("NODELINK_ADMIN_TOKEN"),
			"Administrative plane token (empty disables the admin endpoints)")

		dbHost     = flag.String("db-host", "", "PostgreSQL host (empty uses the in-memory store)")
		dbPort     = flag.Int("db-port", 5432, "PostgreSQL port")
		dbUser     = flag.String("db-user", "nodelink", "PostgreSQL user")
		dbPassword = flag.String("db-password", os.Getenv("NODELINK_DB_PASSWORD"), "PostgreSQL password")
		dbName     = flag.String("db-name", "nodelink", "PostgreSQL database")
		dbSSLMode  = flag.String("db-sslmode", "disable", "PostgreSQL sslmode")

		channelTTL = flag.Duration("channel-ttl", 30*time.Minute, "Encrypted channel lifetime")
		sessionTTL = flag.Duration("session-ttl", time.Hour, "Initial session lifetime")
		rateLimit  = flag.Int("rate-limit", 60, "Per-session requests per minute")
	)
	flag.Parse()

	log := common.SetupLogger(*logJSON, *logDebug)

	cfg := protocol.DefaultConfig()
	cfg.ChannelTTL = *channelTTL
	cfg.SessionTTL = *sessionTTL
	cfg.DefaultRateLimit = *rateLimit

	var store identity.Store
	if *dbHost != "" {
		pgStore, err := identity.NewPostgresStore(&identity.PostgresConfig{
			Host:     *dbHost,
			Port:     *dbPort,
			User:     *dbUser,
			Password: *dbPassword,
			Database: *dbName,
			SSLMode:  *dbSSLMode,
		})
		if err != nil {
			log.Error("could not open identity store", "err", err)
			os.Exit(1)
		}
		log.Info("using PostgreSQL identity store", "host", *dbHost, "database", *dbName)
		store = pgStore
	} else {
		log.Info("using in-memory identity store")
		store = identity.NewMemoryStore()
	}
	defer store.Close()

	channelStore := channel.NewStore(cfg.ChannelTTL)
	defer channelStore.Close()
	channels := channel.NewService(cfg, channelStore, log)
	registry := identity.NewRegistry(store, cfg, log)
	sessions := session.NewService(cfg, log)
	challenges := auth.NewChallengeService(registry, cfg, log)
	defer challenges.Close()
	authenticator := auth.NewAuthenticator(challenges, registry, sessions, cfg, log)

	if *adminToken == "" {
		log.Warn("no admin token configured, administrative endpoints are disabled")
	}
	handler := server.NewHandler(cfg, channels, registry, challenges, authenticator, sessions, *adminToken, log)

	srv, err := httpserver.New(&httpserver.HTTPServerConfig{
		ListenAddr:               *listenAddr,
		MetricsAddr:              *metricsAddr,
		EnablePprof:              *enablePprof,
		Log:                      log,
		DrainDuration:            5 * time.Second,
		GracefulShutdownDuration: 10 * time.Second,
		ReadTimeout:              15 * time.Second,
		WriteTimeout:             15 * time.Second,
	}, handler)
	if err != nil {
		log.Error("could not create server", "err", err)
		os.Exit(1)
	}

	srv.RunInBackground()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info("Shutting down")
	srv.Shutdown()
}
