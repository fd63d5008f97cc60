// Command presence runs the real-time presence and message-distribution
// server: browser clients connect over WebSocket with an opaque token, the
// external identity service decrypts it, and the hub tracks who is online,
// routes targeted messages and broadcasts batched presence updates.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"clipstream/presence/internal/authclient"
	"clipstream/presence/internal/config"
	"clipstream/presence/internal/httpapi"
	"clipstream/presence/internal/logging"
)

// localBuildVersion is appended to the identity service's reported version to
// form the protocol version stamped on every outbound frame.
const localBuildVersion = "17"

const shutdownGrace = 5 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "initialise logging: %v\n", err)
		os.Exit(1)
	}
	logging.ReplaceGlobals(logger)
	defer func() { _ = logger.Sync() }()

	auth, err := authclient.Dial(cfg.AuthNetwork, cfg.AuthAddr, cfg.AuthTimeout, logger)
	if err != nil {
		logger.Fatal("connect identity service",
			logging.String("network", cfg.AuthNetwork),
			logging.String("addr", cfg.AuthAddr),
			logging.Error(err))
		return
	}
	defer func() { _ = auth.Close() }()

	handshakeCtx, cancel := context.WithTimeout(context.Background(), cfg.AuthTimeout)
	remoteVersion, err := auth.ServerVersion(handshakeCtx)
	cancel()
	if err != nil {
		logger.Fatal("identity service handshake failed", logging.Error(err))
		return
	}
	version := remoteVersion + "." + localBuildVersion
	logger.Info("identity service connected",
		logging.String("addr", cfg.AuthAddr),
		logging.String("version", version))

	hub := NewHub(cfg, auth, version, logger)
	hub.Start()

	mux := http.NewServeMux()
	handlers := httpapi.NewHandlerSet(httpapi.Options{
		Logger:     logger,
		Readiness:  hub,
		Stats:      hub.scheduler,
		QueueStats: hub.QueueStats,
		AdminToken: cfg.AdminToken,
		Version:    version,
	})
	handlers.Register(mux)
	mux.HandleFunc("/", hub.ServeWS)

	server := &http.Server{Addr: cfg.Address, Handler: mux}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("presence server listening",
			logging.String("addr", cfg.Address),
			logging.Bool("tls", cfg.TLSCertPath != ""))
		if cfg.TLSCertPath != "" {
			errCh <- server.ListenAndServeTLS(cfg.TLSCertPath, cfg.TLSKeyPath)
		} else {
			errCh <- server.ListenAndServe()
		}
	}()

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-signalCh:
		logger.Info("shutting down", logging.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("serve failed", logging.Error(err))
		}
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancelShutdown()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", logging.Error(err))
	}
	hub.Close()
	logger.Info("presence server stopped")
}
