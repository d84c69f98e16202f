// ABOUTME: Entry point for cardea-console, a terminal client for the credential controller
// ABOUTME: Connects both sockets, keeps the session alive and prints state and notifications

package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"golang.org/x/term"

	"github.com/2389/cardea-console/internal/capability"
	"github.com/2389/cardea-console/internal/channel"
	"github.com/2389/cardea-console/internal/config"
	"github.com/2389/cardea-console/internal/console"
	"github.com/2389/cardea-console/internal/prefs"
	"github.com/2389/cardea-console/internal/state"
	"github.com/2389/cardea-console/internal/tailnet"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                    _
  ___ __ _ _ __ __| | ___  __ _
 / __/ _' | '__/ _' |/ _ \/ _' |
| (_| (_| | | | (_| |  __/ (_| |
 \___\__,_|_|  \__,_|\___|\__,_|
`

const (
	httpTimeout   = 15 * time.Second
	statusTimeout = 20 * time.Second
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: cardea-console <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  run                    Connect and stream state changes and notifications")
		fmt.Println("  login [-user NAME]     Log in, then stream like run")
		fmt.Println("  status                 Print a one-shot summary of the controller")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "run":
		err = runConsole(ctx)
	case "login":
		err = runLogin(ctx, os.Args[2:])
	case "status":
		err = runStatus(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runConsole(ctx context.Context) error {
	cfg, logger, err := loadConfig(true)
	if err != nil {
		return err
	}

	cons, cleanup, err := openConsole(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := cons.Start(ctx); err != nil {
		return fmt.Errorf("starting console: %w", err)
	}
	return watch(ctx, cons)
}

func runLogin(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	user := fs.String("user", "", "Username (prompted if empty)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, logger, err := loadConfig(true)
	if err != nil {
		return err
	}

	reader := bufio.NewReader(os.Stdin)
	username := *user
	if username == "" {
		username = prompt(reader, "Username", "")
	}
	password := os.Getenv("CARDEA_PASSWORD")
	if password == "" {
		password = promptPassword(reader, "Password")
	}
	if username == "" || password == "" {
		return errors.New("username and password are required")
	}

	cons, cleanup, err := openConsole(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := cons.Start(ctx); err != nil {
		return fmt.Errorf("starting console: %w", err)
	}
	if err := cons.Login(ctx, username, password); err != nil {
		return fmt.Errorf("logging in: %w", err)
	}

	sess := cons.Session()
	green := color.New(color.FgGreen)
	green.Print("    ✓ ")
	fmt.Printf("Logged in as %s (%s)", sess.Username, strings.Join(sess.Roles, ", "))
	if !sess.ExpiresAt.IsZero() {
		color.New(color.FgHiBlack).Printf(" until %s", sess.ExpiresAt.Local().Format(time.Kitchen))
	}
	fmt.Println()

	err = watch(ctx, cons)
	logoutCtx, cancel := context.WithTimeout(context.Background(), httpTimeout)
	defer cancel()
	if lerr := cons.Logout(logoutCtx); lerr != nil {
		logger.Warn("logout failed", "error", lerr)
	}
	return err
}

func runStatus(ctx context.Context) error {
	cfg, logger, err := loadConfig(false)
	if err != nil {
		return err
	}

	cons, cleanup, err := openConsole(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := cons.Start(ctx); err != nil {
		return fmt.Errorf("starting console: %w", err)
	}

	wctx, cancel := context.WithTimeout(ctx, statusTimeout)
	defer cancel()
	if err := waitBootstrapped(wctx, cons); err != nil {
		printSummary(cons)
		return fmt.Errorf("controller did not answer the bootstrap: %w", err)
	}
	printSummary(cons)
	return nil
}

// loadConfig reads the config file and sets up logging. With showBanner it
// prints the startup block like a long-running process.
func loadConfig(showBanner bool) (*config.Config, *slog.Logger, error) {
	configPath := config.DefaultPath()

	cyan := color.New(color.FgCyan)
	gray := color.New(color.FgHiBlack)
	if showBanner {
		cyan.Print(banner)
		gray.Printf("    version: %s\n\n", version)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	logger := setupLogger(cfg.Logging)

	if showBanner {
		green := color.New(color.FgGreen)
		green.Print("    ▶ ")
		fmt.Printf("Config:     %s\n", configPath)
		green.Print("    ▶ ")
		fmt.Printf("Controller: %s\n", cfg.Server.BaseURL)
		if u, err := channel.SocketURL(cfg.Server.BaseURL, cfg.Server.AdminPath); err == nil {
			green.Print("    ▶ ")
			fmt.Printf("Admin:      %s\n", u)
		}
		green.Print("    ▶ ")
		fmt.Printf("Storage:    %s\n", cfg.Storage.Path)
		if cfg.Tailscale.Enabled {
			green.Print("    ▶ ")
			fmt.Printf("Tailscale:  ")
			cyan.Print(cfg.Tailscale.Hostname)
			if cfg.Tailscale.Ephemeral {
				gray.Print(" (ephemeral)")
			}
			fmt.Println()
		}
		fmt.Println()
	}

	logger.Info("starting cardea-console", "config", configPath, "controller", cfg.Server.BaseURL)
	return cfg, logger, nil
}

// openConsole builds the console and everything it depends on. The returned
// cleanup stops the console before releasing storage and the tailnet node.
func openConsole(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*console.Console, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	store, err := prefs.NewSQLiteStore(cfg.Storage.Path, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("opening storage: %w", err)
	}
	closers = append(closers, func() {
		if err := store.Close(); err != nil {
			logger.Warn("closing storage", "error", err)
		}
	})

	rules := capability.DefaultRules()
	if cfg.RBAC.RulesPath != "" {
		rules, err = capability.LoadRules(cfg.RBAC.RulesPath)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("loading role rules: %w", err)
		}
	}
	checker := capability.NewChecker(rules, logger)
	logger.Debug("role rules loaded", "roles", checker.Roles())

	var hc *http.Client
	if cfg.Tailscale.Enabled {
		dialer := tailnet.New(cfg.Tailscale, logger)
		if err := dialer.Start(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("starting tailnet node: %w", err)
		}
		closers = append(closers, func() {
			if err := dialer.Close(); err != nil {
				logger.Warn("closing tailnet node", "error", err)
			}
		})
		jar, err := cookiejar.New(nil)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("creating cookie jar: %w", err)
		}
		hc = dialer.HTTPClient(jar, httpTimeout)
		ip, dnsName := dialer.Addr()
		logger.Info("dialing through tailnet", "ip", ip, "dns_name", dnsName)
	}

	cons, err := console.New(console.Options{
		Config:     cfg,
		HTTPClient: hc,
		Prefs:      store,
		Can:        checker.Predicate(),
		Navigate: func(path string) {
			logger.Info("navigate", "path", path)
		},
		Logger: logger,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("creating console: %w", err)
	}
	closers = append(closers, cons.Stop)
	return cons, cleanup, nil
}

// watch prints notifications and a summary each time the bootstrap
// completes, until ctx ends.
func watch(ctx context.Context, cons *console.Console) error {
	ready := cons.Subscribe(ctx, state.FieldReady)
	notes := cons.Notifications()
	wasReady := false
	for {
		select {
		case <-ctx.Done():
			return nil
		case n, ok := <-notes:
			if !ok {
				return nil
			}
			printNotification(n)
		case _, ok := <-ready:
			if !ok {
				return nil
			}
			now := cons.Ready()
			if now && !wasReady {
				printSummary(cons)
			}
			wasReady = now
		}
	}
}

// waitBootstrapped returns once the barrier is ready and the schemas have
// arrived; both bootstraps request them.
func waitBootstrapped(ctx context.Context, cons *console.Console) error {
	changes := cons.Subscribe(ctx, state.FieldAll)
	for {
		if cons.Ready() && len(cons.Snapshot().Schemas) > 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-changes:
			if !ok {
				return errors.New("console stopped")
			}
		}
	}
}

func printNotification(n state.Notification) {
	var c *color.Color
	switch n.Level {
	case state.LevelError:
		c = color.New(color.FgRed, color.Bold)
	case state.LevelWarning:
		c = color.New(color.FgYellow)
	case state.LevelSuccess:
		c = color.New(color.FgGreen)
	default:
		c = color.New(color.FgCyan)
	}
	c.Printf("    ● %s\n", strings.TrimSpace(n.Message))
}

func printSummary(cons *console.Console) {
	snap := cons.Snapshot()
	green := color.New(color.FgGreen)
	gray := color.New(color.FgHiBlack)
	yellow := color.New(color.FgYellow)

	line := func(label, value string) {
		green.Print("    ▶ ")
		fmt.Printf("%-14s %s\n", label+":", value)
	}

	fmt.Println()
	line("Organization", orNone(snap.OrganizationName))
	line("Title", orNone(snap.SiteTitle))
	line("Channel", cons.Active().String())
	if sess := cons.Session(); sess.Username != "" {
		line("User", fmt.Sprintf("%s (%s)", sess.Username, strings.Join(sess.Roles, ", ")))
	} else {
		line("User", "anonymous")
	}
	line("Theme", fmt.Sprintf("primary %s, secondary %s", snap.Theme["primary_color"], snap.Theme["secondary_color"]))
	if cons.Active() == channel.Admin {
		line("Contacts", fmt.Sprint(len(snap.Contacts)))
		line("Credentials", fmt.Sprint(len(snap.Credentials)))
		line("Presentations", fmt.Sprint(len(snap.PresentationReports)))
		line("Users", fmt.Sprint(len(snap.Users)))
		line("Roles", fmt.Sprint(len(snap.Roles)))
	}
	for _, ch := range cons.Channels() {
		status := "closed"
		switch {
		case ch.Open:
			status = "open"
		case ch.Supervised:
			status = "connecting"
		}
		if ch.Failures > 0 {
			status += fmt.Sprintf(", %d failures", ch.Failures)
		}
		line(ch.Kind.String()+" socket", fmt.Sprintf("%s (%s)", status, ch.URL))
	}
	if pending := cons.Pending(); len(pending) > 0 {
		names := make([]string, len(pending))
		for i, p := range pending {
			names[i] = string(p)
		}
		yellow.Print("    ! ")
		fmt.Printf("Waiting on:    %s\n", strings.Join(names, ", "))
	}
	if snap.ErrorMessage != "" {
		color.New(color.FgRed).Printf("    ✗ %s\n", snap.ErrorMessage)
	}
	gray.Printf("    ready: %t, revision %d\n\n", snap.Ready, cons.Revision())
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}

// promptPassword reads a secret without echo when stdin is a terminal.
func promptPassword(reader *bufio.Reader, question string) string {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return prompt(reader, question, "")
	}
	fmt.Printf("%s: ", question)
	secret, err := term.ReadPassword(fd)
	fmt.Println()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(secret))
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		// On EOF or error, return default
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
