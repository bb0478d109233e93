package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/zombor/expense-intake/internal/evaluation"
	"github.com/zombor/expense-intake/internal/expense"
	"github.com/zombor/expense-intake/internal/llm"
	"github.com/zombor/expense-intake/internal/logging"
	"github.com/zombor/expense-intake/internal/notify"
	"github.com/zombor/expense-intake/internal/policy"
	"github.com/zombor/expense-intake/internal/scanning"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

type config struct {
	port              int
	storeType         string
	dbPath            string
	databaseURL       string
	extractorBackend  string
	evaluatorBackend  string
	geminiKey         string
	geminiModel       string
	ollamaURL         string
	ollamaModel       string
	gigachatKey       string
	gigachatScope     string
	gigachatInsecure  bool
	policyFile        string
	directoryFile     string
	extractionTimeout time.Duration
	evaluationTimeout time.Duration
	smtpHost          string
	smtpPort          int
	smtpUser          string
	smtpPassword      string
	smtpFrom          string
	fallbackReviewer  string
	reviewBaseURL     string
	logLevel          string
	logFile           string
}

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	// .env is optional; real environment variables win
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "error: loading .env: %v\n", err)
		os.Exit(1)
	}

	fs := ff.NewFlagSet("expense-intake")
	var (
		port              = fs.IntLong("port", 8080, "HTTP server port")
		storeType         = fs.StringLong("store", "bolt", "Expense store: 'bolt' or 'postgres'")
		dbPath            = fs.StringLong("db", "expense-intake.db", "BoltDB file path")
		databaseURL       = fs.StringLong("database-url", "", "PostgreSQL connection string (store=postgres)")
		extractorBackend  = fs.StringLong("extractor", "gemini", "Receipt extraction model: 'gemini' or 'ollama'")
		evaluatorBackend  = fs.StringLong("evaluator", "gemini", "Fraud evaluation model: 'gemini', 'ollama' or 'gigachat'")
		geminiKey         = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel       = fs.StringLong("gemini-model", "gemini-2.0-flash", "Google Gemini model name")
		ollamaURL         = fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaModel       = fs.StringLong("ollama-model", "llava", "Ollama model name (e.g., llava, llava-phi3, qwen2-vl)")
		gigachatKey       = fs.StringLong("gigachat-key", "", "GigaChat authorization key")
		gigachatScope     = fs.StringLong("gigachat-scope", "GIGACHAT_API_PERS", "GigaChat API scope")
		gigachatInsecure  = fs.BoolLong("gigachat-insecure", "Skip TLS verification for GigaChat")
		policyFile        = fs.StringLong("policy", "", "Expense policy YAML file, hot-reloaded (default: built-in policy)")
		directoryFile     = fs.StringLong("directory", "", "Department directory YAML file (default: built-in directory)")
		extractionTimeout = fs.DurationLong("extraction-timeout", scanning.DefaultTimeout, "Receipt extraction timeout")
		evaluationTimeout = fs.DurationLong("evaluation-timeout", evaluation.DefaultTimeout, "Fraud evaluation timeout")
		smtpHost          = fs.StringLong("smtp-host", "", "SMTP host; notifications are only logged when empty")
		smtpPort          = fs.IntLong("smtp-port", 587, "SMTP port")
		smtpUser          = fs.StringLong("smtp-user", "", "SMTP username")
		smtpPassword      = fs.StringLong("smtp-password", "", "SMTP password")
		smtpFrom          = fs.StringLong("smtp-from", "", "Sender address (default: smtp-user)")
		fallbackReviewer  = fs.StringLong("fallback-reviewer", "", "Reviewer address used when a department has no manager email")
		reviewBaseURL     = fs.StringLong("review-base-url", "", "Base URL linked from review emails")
		logLevel          = fs.StringLong("log-level", "info", "Log level: debug, info, warn, error")
		logFile           = fs.StringLong("log-file", "", "Also write logs to this file")
		showVersion       = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("EXPENSE_INTAKE"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Check version flag after parsing
	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	cfg := config{
		port:              *port,
		storeType:         *storeType,
		dbPath:            *dbPath,
		databaseURL:       *databaseURL,
		extractorBackend:  *extractorBackend,
		evaluatorBackend:  *evaluatorBackend,
		geminiKey:         *geminiKey,
		geminiModel:       *geminiModel,
		ollamaURL:         *ollamaURL,
		ollamaModel:       *ollamaModel,
		gigachatKey:       *gigachatKey,
		gigachatScope:     *gigachatScope,
		gigachatInsecure:  *gigachatInsecure,
		policyFile:        *policyFile,
		directoryFile:     *directoryFile,
		extractionTimeout: *extractionTimeout,
		evaluationTimeout: *evaluationTimeout,
		smtpHost:          *smtpHost,
		smtpPort:          *smtpPort,
		smtpUser:          *smtpUser,
		smtpPassword:      *smtpPassword,
		smtpFrom:          *smtpFrom,
		fallbackReviewer:  *fallbackReviewer,
		reviewBaseURL:     *reviewBaseURL,
		logLevel:          *logLevel,
		logFile:           *logFile,
	}

	logger, err := logging.New(cfg.logLevel, cfg.logFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("Exiting", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
	_ = logger.Sync()
}

func run(cfg config, logger *zap.Logger) (err error) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("Initializing store...", zap.String("type", cfg.storeType))
	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer multierr.AppendInvoke(&err, multierr.Close(store))

	models := make(map[string]llm.Model)
	defer func() {
		for _, m := range models {
			multierr.AppendInvoke(&err, multierr.Close(m))
		}
	}()
	model := func(backend string) (llm.Model, error) {
		if m, ok := models[backend]; ok {
			return m, nil
		}
		m, err := newModel(ctx, backend, cfg, logger)
		if err != nil {
			return nil, err
		}
		models[backend] = m
		return m, nil
	}

	if cfg.extractorBackend == "gigachat" {
		return fmt.Errorf("gigachat cannot read receipt images, choose gemini or ollama for --extractor")
	}
	extractionModel, err := model(cfg.extractorBackend)
	if err != nil {
		return err
	}
	evaluationModel, err := model(cfg.evaluatorBackend)
	if err != nil {
		return err
	}

	policies, err := policy.NewLoader(cfg.policyFile, logger)
	if err != nil {
		return fmt.Errorf("loading policy: %w", err)
	}
	if cfg.policyFile != "" {
		policies.CountReloads()
		stopWatch, err := policies.Watch()
		if err != nil {
			return fmt.Errorf("watching policy: %w", err)
		}
		defer stopWatch()
		logger.Info("Watching policy file", zap.String("path", cfg.policyFile))
	}

	directory, err := expense.LoadDirectory(cfg.directoryFile)
	if err != nil {
		return err
	}

	var sender notify.Sender
	if cfg.smtpHost != "" {
		sender, err = notify.NewSMTPSender(notify.SMTPConfig{
			Host:     cfg.smtpHost,
			Port:     cfg.smtpPort,
			Username: cfg.smtpUser,
			Password: cfg.smtpPassword,
			From:     cfg.smtpFrom,
		})
		if err != nil {
			return fmt.Errorf("configuring smtp: %w", err)
		}
	} else {
		logger.Warn("No SMTP host configured, notifications will only be logged")
		sender = notify.NewLogSender(logger)
	}
	dispatcher := notify.NewDispatcher(sender, notify.Config{
		FallbackReviewer: cfg.fallbackReviewer,
		ReviewBaseURL:    cfg.reviewBaseURL,
	}, logger)

	extractor := scanning.NewExtractor(scanning.NewLLMScanner(extractionModel, &http.Client{Timeout: cfg.extractionTimeout}), cfg.extractionTimeout)
	evaluator := evaluation.NewEvaluator(evaluationModel, policies, cfg.evaluationTimeout)

	service := expense.NewService(store, directory, extractor, evaluator, dispatcher, logger)
	server := expense.NewServer(service, policies, logger)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.port),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- httpServer.ListenAndServe()
	}()
	logger.Info("Server started", zap.String("address", fmt.Sprintf("http://localhost%s", httpServer.Addr)))

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return multierr.Combine(
		httpServer.Shutdown(shutdownCtx),
		dispatcher.Close(shutdownCtx),
	)
}

func openStore(ctx context.Context, cfg config, logger *zap.Logger) (expense.Store, error) {
	switch cfg.storeType {
	case "bolt":
		store, err := expense.NewBoltStore(cfg.dbPath)
		if err != nil {
			return nil, fmt.Errorf("initializing database: %w", err)
		}
		return store, nil
	case "postgres":
		if cfg.databaseURL == "" {
			return nil, fmt.Errorf("--database-url is required for the postgres store")
		}
		store, err := expense.NewPostgresStore(ctx, cfg.databaseURL, logger)
		if err != nil {
			return nil, fmt.Errorf("initializing database: %w", err)
		}
		return store, nil
	}
	return nil, fmt.Errorf("invalid store type %q, valid: bolt or postgres", cfg.storeType)
}

func newModel(ctx context.Context, backend string, cfg config, logger *zap.Logger) (llm.Model, error) {
	switch backend {
	case "gemini":
		// Get Gemini API key from flag or environment
		apiKey := cfg.geminiKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("gemini API key is required, set --gemini-key or GEMINI_API_KEY")
		}
		logger.Info("Initializing Gemini...", zap.String("model", cfg.geminiModel))
		return llm.NewGemini(ctx, apiKey, cfg.geminiModel)
	case "ollama":
		logger.Info("Initializing Ollama...", zap.String("url", cfg.ollamaURL), zap.String("model", cfg.ollamaModel))
		return llm.NewOllama(cfg.ollamaURL, cfg.ollamaModel)
	case "gigachat":
		logger.Info("Initializing GigaChat...", zap.String("scope", cfg.gigachatScope))
		return llm.NewGigaChat(ctx, llm.GigaChatConfig{
			APIKey:             cfg.gigachatKey,
			Scope:              cfg.gigachatScope,
			InsecureSkipVerify: cfg.gigachatInsecure,
		})
	}
	return nil, fmt.Errorf("invalid model backend %q, valid: gemini, ollama or gigachat", backend)
}
