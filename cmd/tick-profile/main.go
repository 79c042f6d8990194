package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"tick-profile/internal/authbrowser"
	"tick-profile/internal/config"
	"tick-profile/internal/cookies"
	"tick-profile/internal/ibkrcp"
	"tick-profile/internal/indicator"
	"tick-profile/internal/server"
	"tick-profile/internal/state"
)

func main() {
	_ = godotenv.Load() // .env is optional

	cfgPath := flag.String("config", "config.yaml", "config file")
	fromBrowser := flag.String("cookies-from-browser", "", "import gateway cookies from a local browser (chrome, edge, brave, firefox, ...; optional :profile-path)")
	login := flag.Bool("login", false, "sign in through a Chrome window, save the session and exit")
	paper := flag.Bool("paper", true, "with --login: paper account (RL=2)")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load %s: %v\n", *cfgPath, err)
		os.Exit(1)
	}
	set, err := indicator.FromConfig(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid indicator settings: %v\n", err)
		os.Exit(1)
	}

	logger := config.NewLogger(cfg.LogLevel)
	logger.Info("tick-profile starting",
		slog.Int("port", cfg.Port),
		slog.String("ibkr_gateway_url", cfg.IBKRGatewayURL),
		slog.String("reset", set.Reset.String()),
		slog.Int("max_levels", set.MaxLevels),
	)

	st := state.NewState()
	client := ibkrcp.NewClient(cfg.IBKRGatewayURL, cfg.SessionStorePath, logger)

	if *fromBrowser != "" {
		cs, err := cookies.ExtractFromBrowser(*fromBrowser, cfg.IBKRGatewayURL)
		if err != nil {
			logger.Error("cookie import failed", slog.String("err", err.Error()))
		} else {
			client.InjectCookies(cs)
			logger.Info("imported cookies from browser",
				slog.String("browser", *fromBrowser),
				slog.Int("count", len(cs)),
				slog.String("session_store", cfg.SessionStorePath),
			)
		}
	}

	if *login {
		ctx, cancel := context.WithTimeout(context.Background(), authbrowser.LoginWait()+time.Minute)
		defer cancel()
		err := authbrowser.Login(ctx, client.Jar(), authbrowser.Options{
			BaseURL: cfg.IBKRGatewayURL,
			Paper:   *paper,
			Logger:  logger,
		})
		if err == nil {
			err = client.Connect(ctx)
		}
		if err != nil {
			logger.Error("login failed", slog.String("err", err.Error()))
			os.Exit(1)
		}
		logger.Info("login successful; session saved", slog.String("path", client.SessionStorePath()))
		return
	}

	feed := ibkrcp.NewGatewayTickFeed(client, logger)
	srv := server.NewHTTPServer(cfg, set, st, feed, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go feed.Run(ctx, func(connected bool) {
		st.SetConnected(connected)
		srv.BroadcastStatus()
	})

	go srv.Pump(ctx)

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	done := make(chan struct{})
	go func() {
		logger.Info("HTTP server listening", slog.Int("port", cfg.Port))
		if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", slog.String("err", err.Error()))
			cancel()
		}
		close(done)
	}()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigc:
	case <-ctx.Done():
	}

	logger.Info("shutting down...")
	shCtx, shCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shCancel()

	_ = httpSrv.Shutdown(shCtx)
	feed.Close()
	<-done
	logger.Info("bye")
}
