package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/topcerry22/ballerexeserver/auth"
	"github.com/topcerry22/ballerexeserver/registry"
	httpServer "github.com/topcerry22/ballerexeserver/server/http"
	websocketServer "github.com/topcerry22/ballerexeserver/server/websocket"
	"github.com/topcerry22/ballerexeserver/service"
	store "github.com/topcerry22/ballerexeserver/storage/memory"
)

const defaultJWTSecret = "dev-secret-change-me"

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	if err := godotenv.Load(); err != nil {
		logger.Debug().Err(err).Msg("no .env file loaded")
	}

	fs := pflag.NewFlagSet("main", pflag.ContinueOnError)

	var (
		apiListenAddr = fs.StringP("api-listen-addr", "a", ":8080", "api listen address")
		wsListenAddr  = fs.StringP("ws-listen-addr", "w", ":8888", "websocket match listen address")
		logLevel      = fs.StringP("log-level", "l", "debug", "log level")
		seedAccounts  = fs.StringSliceP("seed-account", "s", nil, "username to seed into the account store (repeatable)")
	)
	if err := fs.Parse(os.Args[1:]); err != nil {
		logger.Fatal().Err(err).Msg("failed to parse command line arguments")
	}

	lvl, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to parse loglevel")
	}
	logger = logger.Level(lvl)

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		secret = defaultJWTSecret
		logger.Warn().Msg("JWT_SECRET not set, using development default")
	}

	accounts := store.NewAccountStore(*seedAccounts...)
	verifier := auth.NewVerifier(secret, accounts)

	svc := service.NewService(service.Config{
		Registry: registry.New(&logger),
		Rooms:    store.NewRoomStore(),
		Verifier: verifier,
		Logger:   &logger,
	})
	apiSrv := httpServer.NewServer(httpServer.Config{
		Logger:       &logger,
		StatsService: svc,
		TokenIssuer:  verifier,
		Accounts:     accounts,
		ListenAddr:   *apiListenAddr,
	})
	wsSrv := websocketServer.NewServer(websocketServer.Config{
		Logger:       &logger,
		MatchService: svc,
		ListenAddr:   *wsListenAddr,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var (
		wg   = &sync.WaitGroup{}
		errc = make(chan error, 2)
	)
	wg.Add(2)
	go apiSrv.Run(ctx, wg, errc)
	go wsSrv.Run(ctx, wg, errc)

	select {
	case err = <-errc:
		logger.Error().Err(err).Msg("unexpected server error, shutting down")
	case <-ctx.Done():
		logger.Warn().Msg("interrupted")
	}
	cancel()
	wg.Wait()
}
