package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/naotama2002/oidc-login-go/auth"
	"github.com/naotama2002/oidc-login-go/internal/config"
	"github.com/naotama2002/oidc-login-go/internal/logging"
)

const usage = "Usage: oidc-login -issuer <url> -client-id <id> [-scope <scope>]... [-param key=value]... [-port <callback-port>] [-timeout <duration>] [-config <file>] [-env-file <file>] [-no-browser] [-log-level <level>]"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr, nil))
}

// run executes one login and returns the process exit code. ua replaces the
// browser when non-nil.
func run(ctx context.Context, args []string, stdout, stderr io.Writer, ua auth.UserAgent) int {
	fs := flag.NewFlagSet("oidc-login", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { fmt.Fprintln(stderr, usage) }

	var (
		configFile string
		envFile    string
		issuer     string
		clientID   string
		scopes     flagList
		params     flagList
		port       int
		timeout    time.Duration
		noBrowser  bool
		logLevel   string
	)
	fs.StringVar(&configFile, "config", "", "Path to a YAML config file")
	fs.StringVar(&envFile, "env-file", "", "Path to a .env file (default ./.env when present)")
	fs.StringVar(&issuer, "issuer", "", "The OpenID Provider issuer URL")
	fs.StringVar(&clientID, "client-id", "", "The OAuth client_id")
	fs.Var(&scopes, "scope", "Scope to request (repeatable, openid is always added)")
	fs.Var(&params, "param", "Extra authorization parameter (format: 'key=value', repeatable)")
	fs.IntVar(&port, "port", 0, "The callback port on 127.0.0.1 (0 picks a free port)")
	fs.DurationVar(&timeout, "timeout", 0, "How long to wait for the login to complete")
	fs.BoolVar(&noBrowser, "no-browser", false, "Print the authorization URL instead of opening a browser")
	fs.StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")

	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load(config.WithConfigFile(configFile), config.WithEnvFile(envFile))
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	// Flags override file and environment values.
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "issuer":
			cfg.Issuer = issuer
		case "client-id":
			cfg.ClientID = clientID
		case "scope":
			cfg.Scopes = scopes
		case "port":
			cfg.Callback.Port = port
		case "timeout":
			cfg.Timeout = timeout
		case "no-browser":
			cfg.NoBrowser = noBrowser
		case "log-level":
			cfg.Log.Level = logLevel
		}
	})
	extra, err := params.keyValues()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	if cfg.ExtraParams == nil {
		cfg.ExtraParams = map[string]string{}
	}
	for k, v := range extra {
		cfg.ExtraParams[k] = v
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		fs.Usage()
		return 2
	}

	logger := logging.New(cfg.Log, stderr)
	if ua == nil {
		ua = defaultUserAgent(cfg, logger)
	}

	tokens, err := login(ctx, cfg, logger, ua)
	if err != nil {
		logger.Error().Err(err).Msg("Login failed")
		if appErr, ok := auth.AsError(err); ok {
			fmt.Fprintf(stderr, "Error: %s\n", appErr.Type)
		}
		return 1
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(tokens); err != nil {
		logger.Error().Err(err).Msg("Failed to write tokens")
		return 1
	}
	return 0
}

func defaultUserAgent(cfg *config.Config, logger zerolog.Logger) auth.UserAgent {
	if cfg.NoBrowser {
		return auth.NewManualUserAgent(logger)
	}
	return auth.NewBrowserUserAgent(logger)
}

// login starts the loopback receiver, runs the flow and shuts the receiver down.
func login(ctx context.Context, cfg *config.Config, logger zerolog.Logger, ua auth.UserAgent) (*auth.TokenSet, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	flow := auth.NewFlow(
		auth.WithLogger(logger),
		auth.WithHTTPClient(&http.Client{Timeout: cfg.HTTPTimeout}),
		auth.WithSessionTimeout(cfg.Timeout),
		auth.WithUserAgent(ua),
	)

	receiver := auth.NewLoopbackReceiver(cfg.Callback.Port, cfg.Callback.Path, flow, logger)
	redirectURI, err := receiver.Start()
	if err != nil {
		return nil, err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := receiver.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("Callback server shutdown error")
		}
	}()

	return flow.Authenticate(ctx, auth.AuthenticateRequest{
		Issuer:      cfg.Issuer,
		ClientID:    cfg.ClientID,
		RedirectURI: redirectURI,
		Scopes:      cfg.Scopes,
		ExtraParams: cfg.ExtraParams,
	})
}

// flagList is a custom flag type to handle repeated entries
type flagList []string

func (f *flagList) String() string {
	return fmt.Sprint(*f)
}

func (f *flagList) Set(value string) error {
	*f = append(*f, value)
	return nil
}

// keyValues splits 'key=value' entries.
func (f flagList) keyValues() (map[string]string, error) {
	out := make(map[string]string, len(f))
	for _, kv := range f {
		key, value, ok := strings.Cut(kv, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid parameter %q, expected key=value", kv)
		}
		out[key] = strings.TrimSpace(value)
	}
	return out, nil
}
