package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/teemow/inboxbell/internal/commands"
	"github.com/teemow/inboxbell/internal/dedup"
	"github.com/teemow/inboxbell/internal/google"
	"github.com/teemow/inboxbell/internal/instrumentation"
	"github.com/teemow/inboxbell/internal/logging"
	"github.com/teemow/inboxbell/internal/notify"
	"github.com/teemow/inboxbell/internal/oauth"
	"github.com/teemow/inboxbell/internal/poller"
	"github.com/teemow/inboxbell/internal/server"
	"github.com/teemow/inboxbell/internal/summarize"
)

// serveOptions holds every serve setting after flags and environment are merged.
type serveOptions struct {
	Debug bool

	HTTPAddr string
	BaseURL  string

	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string
	GoogleScopes       []string

	TelegramToken string

	OpenAIAPIKey  string
	OpenAIModel   string
	OpenAIBaseURL string

	PollInterval   time.Duration
	PollMaxResults int64
	IOTimeout      time.Duration
	SeenCap        int

	TrustProxy bool

	MetricsEnabled bool
	MetricsAddr    string
}

func newServeCmd() *cobra.Command {
	var (
		opts      serveOptions
		scopesRaw string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the poller and the HTTP front door",
		Long: `Start the mailbox poller and the HTTP front door.

The front door serves the Google login flow (/auth/google), the Telegram
webhook (/telegram/webhook), webhook administration, the JSON mailbox routes
(/emails, /attachments, /pdfsum, /summarize) and health checks.
Metrics are served on a separate address.

Every flag can also be set through the environment variable named in its
help text. A flag given on the command line wins over the environment.

Required:
  --telegram-token or TELEGRAM_BOT_TOKEN
  --google-client-id / --google-client-secret or GOOGLE_CLIENT_ID / GOOGLE_CLIENT_SECRET
  --base-url or PUBLIC_BASE_URL for deployed instances (login links and the
  OAuth redirect are built from it)`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.GoogleScopes = parseCommaSeparatedList(scopesRaw)
			loadServeEnv(cmd, &opts)
			if err := opts.finalize(); err != nil {
				return err
			}
			return runServe(opts)
		},
	}

	cmd.Flags().BoolVar(&opts.Debug, "debug", false, "Enable debug logging")
	cmd.Flags().StringVar(&opts.HTTPAddr, "http-addr", server.DefaultHTTPAddr, "HTTP front door address. Can also use HTTP_ADDR env var.")
	cmd.Flags().StringVar(&opts.BaseURL, "base-url", "", "Public base URL of the front door, e.g. https://bell.example.com. Can also use PUBLIC_BASE_URL env var.")

	cmd.Flags().StringVar(&opts.GoogleClientID, "google-client-id", "", "Google OAuth client ID. Can also use GOOGLE_CLIENT_ID env var.")
	cmd.Flags().StringVar(&opts.GoogleClientSecret, "google-client-secret", "", "Google OAuth client secret. Can also use GOOGLE_CLIENT_SECRET env var.")
	cmd.Flags().StringVar(&opts.GoogleRedirectURL, "google-redirect-url", "", "OAuth redirect URL (default <base-url>/auth/google/callback). Can also use OAUTH_REDIRECT_URI env var.")
	cmd.Flags().StringVar(&scopesRaw, "google-scopes", "", "Comma-separated OAuth scopes (default gmail.readonly). Can also use GOOGLE_SCOPES env var.")

	cmd.Flags().StringVar(&opts.TelegramToken, "telegram-token", "", "Telegram bot token. Can also use TELEGRAM_BOT_TOKEN env var.")

	cmd.Flags().StringVar(&opts.OpenAIAPIKey, "openai-api-key", "", "API key for PDF summaries. Summaries are disabled without it. Can also use OPENAI_API_KEY env var.")
	cmd.Flags().StringVar(&opts.OpenAIModel, "openai-model", summarize.DefaultModel, "Chat model used for summaries. Can also use OPENAI_MODEL env var.")
	cmd.Flags().StringVar(&opts.OpenAIBaseURL, "openai-base-url", "", "Override the OpenAI-compatible API root. Can also use OPENAI_BASE_URL env var.")

	cmd.Flags().DurationVar(&opts.PollInterval, "poll-interval", poller.DefaultInterval, "Pause between poll cycles. Can also use POLL_INTERVAL env var.")
	cmd.Flags().Int64Var(&opts.PollMaxResults, "poll-max-results", poller.DefaultMaxResults, "Messages listed per tenant and cycle. Can also use POLL_MAX_RESULTS env var.")
	cmd.Flags().DurationVar(&opts.IOTimeout, "io-timeout", poller.DefaultIOTimeout, "Timeout for each Gmail, Telegram and summarization call. Can also use IO_TIMEOUT env var.")
	cmd.Flags().IntVar(&opts.SeenCap, "seen-cap", 0, "Per-chat limit of remembered message IDs, oldest evicted first (0 = unbounded). Can also use SEEN_CAP env var.")

	cmd.Flags().BoolVar(&opts.TrustProxy, "trust-proxy", false, "Use X-Forwarded-For for per-IP rate limiting. Only behind a trusted proxy. Can also use TRUST_PROXY env var.")

	cmd.Flags().BoolVar(&opts.MetricsEnabled, "metrics-enabled", true, "Enable the metrics server on a dedicated port. Can also use METRICS_ENABLED env var.")
	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", server.DefaultMetricsAddr, "Metrics server address. Can also use METRICS_ADDR env var.")

	return cmd
}

// loadServeEnv fills options from environment variables. A variable only
// applies when the matching flag was not set explicitly.
func loadServeEnv(cmd *cobra.Command, opts *serveOptions) {
	changed := func(name string) bool { return cmd.Flags().Changed(name) }

	strEnv := func(flag, key string, dst *string) {
		if changed(flag) {
			return
		}
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	boolEnv := func(flag, key string, dst *bool) {
		if changed(flag) {
			return
		}
		if v, err := strconv.ParseBool(os.Getenv(key)); err == nil {
			*dst = v
		}
	}
	durationEnv := func(flag, key string, dst *time.Duration) {
		if changed(flag) {
			return
		}
		if v, err := time.ParseDuration(os.Getenv(key)); err == nil {
			*dst = v
		}
	}

	strEnv("http-addr", "HTTP_ADDR", &opts.HTTPAddr)
	strEnv("base-url", "PUBLIC_BASE_URL", &opts.BaseURL)
	strEnv("google-client-id", "GOOGLE_CLIENT_ID", &opts.GoogleClientID)
	strEnv("google-client-secret", "GOOGLE_CLIENT_SECRET", &opts.GoogleClientSecret)
	strEnv("google-redirect-url", "OAUTH_REDIRECT_URI", &opts.GoogleRedirectURL)
	strEnv("telegram-token", "TELEGRAM_BOT_TOKEN", &opts.TelegramToken)
	strEnv("openai-api-key", "OPENAI_API_KEY", &opts.OpenAIAPIKey)
	strEnv("openai-model", "OPENAI_MODEL", &opts.OpenAIModel)
	strEnv("openai-base-url", "OPENAI_BASE_URL", &opts.OpenAIBaseURL)
	strEnv("metrics-addr", "METRICS_ADDR", &opts.MetricsAddr)

	if !changed("google-scopes") {
		if scopes := parseCommaSeparatedList(os.Getenv("GOOGLE_SCOPES")); scopes != nil {
			opts.GoogleScopes = scopes
		}
	}

	durationEnv("poll-interval", "POLL_INTERVAL", &opts.PollInterval)
	durationEnv("io-timeout", "IO_TIMEOUT", &opts.IOTimeout)

	if !changed("poll-max-results") {
		if v, err := strconv.ParseInt(os.Getenv("POLL_MAX_RESULTS"), 10, 64); err == nil {
			opts.PollMaxResults = v
		}
	}
	if !changed("seen-cap") {
		if v, err := strconv.Atoi(os.Getenv("SEEN_CAP")); err == nil {
			opts.SeenCap = v
		}
	}

	boolEnv("trust-proxy", "TRUST_PROXY", &opts.TrustProxy)
	boolEnv("metrics-enabled", "METRICS_ENABLED", &opts.MetricsEnabled)
	boolEnv("debug", "DEBUG", &opts.Debug)
}

// finalize validates the options and derives defaults that depend on other options.
func (o *serveOptions) finalize() error {
	if o.TelegramToken == "" {
		return fmt.Errorf("a Telegram bot token is required (--telegram-token or TELEGRAM_BOT_TOKEN)")
	}
	if o.GoogleClientID == "" || o.GoogleClientSecret == "" {
		return fmt.Errorf("Google OAuth credentials are required (--google-client-id/--google-client-secret or GOOGLE_CLIENT_ID/GOOGLE_CLIENT_SECRET)")
	}
	if o.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %s", o.PollInterval)
	}
	if o.IOTimeout <= 0 {
		return fmt.Errorf("I/O timeout must be positive, got %s", o.IOTimeout)
	}
	if o.SeenCap < 0 {
		return fmt.Errorf("seen cap must not be negative, got %d", o.SeenCap)
	}

	if o.BaseURL == "" {
		o.BaseURL = localBaseURL(o.HTTPAddr)
	}
	u, err := url.Parse(o.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid base URL %q", o.BaseURL)
	}
	o.BaseURL = strings.TrimSuffix(o.BaseURL, "/")

	if o.GoogleRedirectURL == "" {
		o.GoogleRedirectURL = o.BaseURL + "/auth/google/callback"
	}
	return nil
}

// localBaseURL guesses the base URL for local development from the listen address.
func localBaseURL(addr string) string {
	if strings.HasPrefix(addr, ":") {
		return "http://localhost" + addr
	}
	return "http://" + addr
}

func runServe(opts serveOptions) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := logging.New(os.Stderr, opts.Debug)
	slog.SetDefault(logger)

	instrConfig := instrumentation.DefaultConfig()
	instrConfig.ServiceVersion = version
	instr, err := instrumentation.NewProvider(ctx, instrConfig)
	if err != nil {
		return fmt.Errorf("failed to create instrumentation provider: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), server.DefaultShutdownTimeout)
		defer cancel()
		if err := instr.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Error during instrumentation shutdown", logging.Err(err))
		}
	}()
	metrics := instr.Metrics()

	var metricsServer *server.MetricsServer
	metricsDone := make(chan error, 1)
	if opts.MetricsEnabled && instr.Enabled() {
		metricsServer, err = server.NewMetricsServer(server.MetricsServerConfig{
			Addr:                    opts.MetricsAddr,
			InstrumentationProvider: instr,
		})
		if err != nil {
			return fmt.Errorf("failed to create metrics server: %w", err)
		}
		go func() { metricsDone <- metricsServer.Start() }()
	}

	httpClient := google.NewHTTPClient(opts.IOTimeout)
	oauthConf := google.NewOAuthConfig(google.Config{
		ClientID:     opts.GoogleClientID,
		ClientSecret: opts.GoogleClientSecret,
		RedirectURL:  opts.GoogleRedirectURL,
		Scopes:       opts.GoogleScopes,
	})
	provider := oauth.NewProvider(oauth.ProviderConfig{
		OAuth:      oauthConf,
		HTTPClient: httpClient,
		Metrics:    metrics,
		Logger:     logger,
	})

	store := oauth.NewStore(logger)
	ledger := dedup.NewLedger(opts.SeenCap)

	telegram, err := notify.NewTelegram(notify.Config{
		Token:      opts.TelegramToken,
		HTTPClient: &http.Client{Timeout: opts.IOTimeout},
		Metrics:    metrics,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	var summarizer summarize.Summarizer
	if opts.OpenAIAPIKey != "" {
		summarizer = summarize.NewClient(summarize.Config{
			APIKey:  opts.OpenAIAPIKey,
			Model:   opts.OpenAIModel,
			BaseURL: opts.OpenAIBaseURL,
			Metrics: metrics,
		})
	} else {
		logger.Warn("No OpenAI API key configured, PDF summaries are disabled")
	}

	dispatcher := commands.NewDispatcher(commands.Config{
		Credentials: store,
		Builder:     provider,
		Summarizer:  summarizer,
		BaseURL:     opts.BaseURL,
		BotName:     telegram.Username(),
		IOTimeout:   opts.IOTimeout,
		Metrics:     metrics,
		Logger:      logger,
	})

	cycle := poller.New(poller.Config{
		Credentials: store,
		Builder:     provider,
		Ledger:      ledger,
		Notifier:    telegram,
		MaxResults:  opts.PollMaxResults,
		IOTimeout:   opts.IOTimeout,
		Metrics:     metrics,
		Logger:      logger,
	})

	sc, err := server.NewServerContext(ctx, server.Config{
		Store:     store,
		Ledger:    ledger,
		Provider:  provider,
		Commands:  dispatcher,
		Scheduler: poller.NewScheduler(cycle, opts.PollInterval, logger),
		Metrics:   metrics,
		Logger:    logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create server context: %w", err)
	}

	limiter := server.NewRateLimiter(server.DefaultRateLimit, server.DefaultRateBurst, opts.TrustProxy)
	go limiter.RunCleanup(ctx, time.Minute)

	front, err := server.NewHTTPServer(sc, server.HTTPServerConfig{
		Addr:        opts.HTTPAddr,
		Notifier:    telegram,
		Webhooks:    telegram,
		RateLimiter: limiter,
		Summarizer:  summarizer,
		IOTimeout:   opts.IOTimeout,
		Metrics:     metrics,
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create HTTP server: %w", err)
	}

	sc.StartScheduler(ctx)

	frontDone := make(chan error, 1)
	go func() { frontDone <- front.Start() }()

	logger.Info("inboxbell started",
		"version", version,
		"http_addr", opts.HTTPAddr,
		"base_url", opts.BaseURL,
		"login_url", opts.BaseURL+"/auth/google?tg_id=<chat id>",
		"webhook_url", opts.BaseURL+"/telegram/webhook",
		"poll_interval", opts.PollInterval,
		"summaries", summarizer != nil,
		"metrics_addr", opts.MetricsAddr)

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-frontDone:
		runErr = fmt.Errorf("HTTP server stopped: %w", err)
		if err == nil {
			runErr = errors.New("HTTP server stopped unexpectedly")
		}
	case err := <-metricsDone:
		runErr = fmt.Errorf("metrics server stopped: %w", err)
		if err == nil {
			runErr = errors.New("metrics server stopped unexpectedly")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), server.DefaultShutdownTimeout)
	defer cancel()

	if err := front.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Error shutting down HTTP server", logging.Err(err))
	}
	if err := sc.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Poll cycle did not finish before shutdown timeout", logging.Err(err))
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Error shutting down metrics server", logging.Err(err))
		}
	}

	logger.Info("inboxbell stopped")
	return runErr
}

// parseCommaSeparatedList parses a comma-separated string into a slice,
// trimming whitespace from each element and filtering out empty strings.
// Returns nil if the input is empty or contains only whitespace/commas.
func parseCommaSeparatedList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	if len(result) == 0 {
		return nil
	}
	return result
}
