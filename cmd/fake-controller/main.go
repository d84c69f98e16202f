// ABOUTME: Minimal fake controller for E2E testing; serves both sockets and the session API.
// ABOUTME: Usage: fake-controller [-addr localhost:8150] [-user admin] [-password admin] [-roles admin]
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
	"strings"
	"syscall"
	"time"

	"github.com/2389/cardea-console/internal/controllertest"
)

func main() {
	addr := flag.String("addr", "localhost:8150", "HTTP listen address")
	user := flag.String("user", "admin", "Username accepted by log-in")
	password := flag.String("password", "admin", "Password accepted by log-in")
	roles := flag.String("roles", "admin", "Comma separated roles of the account")
	ttl := flag.Duration("ttl", 30*time.Minute, "Session token lifetime")
	debug := flag.Bool("debug", false, "Log every request and reply")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	acct := controllertest.Account{
		ID:       "1",
		Username: *user,
		Password: *password,
		Email:    *user + "@example.com",
		Roles:    splitRoles(*roles),
	}
	if err := run(*addr, acct, *ttl, logger); err != nil {
		logger.Error("fake controller failed", "error", err)
		os.Exit(1)
	}
}

func run(addr string, acct controllertest.Account, ttl time.Duration, logger *slog.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	ctrl := controllertest.New(controllertest.Options{
		Accounts: []controllertest.Account{acct},
		TokenTTL: ttl,
		Logger:   logger,
	})
	defer ctrl.Close()

	srv := &http.Server{
		Addr:              addr,
		Handler:           ctrl,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	fmt.Fprintf(os.Stderr, "fake controller listening on http://%s (user %q)\n", addr, acct.Username)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serving: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	// Hijacked websocket connections are not tracked by Shutdown; Close on
	// the controller ends them.
	ctrl.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	return nil
}

func splitRoles(s string) []string {
	var out []string
	for _, r := range strings.Split(s, ",") {
		if r = strings.TrimSpace(r); r != "" {
			out = append(out, r)
		}
	}
	return out
}
