package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"

	"github.com/pavelanni/cbtportal/internal/docstore"
	"github.com/pavelanni/cbtportal/internal/exam"
	"github.com/pavelanni/cbtportal/internal/handler"
	appI18n "github.com/pavelanni/cbtportal/internal/i18n"
	"github.com/pavelanni/cbtportal/internal/llm"
	"github.com/pavelanni/cbtportal/internal/model"
	"github.com/pavelanni/cbtportal/internal/pin"
	"github.com/pavelanni/cbtportal/internal/report"
	"github.com/pavelanni/cbtportal/internal/store"
)

func main() {
	// A .env file is optional.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintln(os.Stderr, "load .env:", err)
		os.Exit(1)
	}
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "cbtportal",
		Short: "School CBT exams and scratch-card result checking",
	}

	serve := serveCmd()
	root.AddCommand(serve, exportCmd(), pinsCmd(), importCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `cbtportal --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

// storeFlags are shared by every command that opens the database.
func storeFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("db", "cbtportal.db", "SQLite database path")
	f.String("collection-prefix", "cbt", "Prefix for document collection names")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP portal server",
		RunE:  runServe,
	}
	storeFlags(cmd)
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.String("llm-url", "", "OpenAI-compatible API base URL (empty disables AI features)")
	f.String("llm-key", "ollama", "API key for LLM")
	f.String("llm-model", "llama3.2", "LLM model name")
	f.StringP("lang", "l", "en", "Default UI language (en, fr)")
	f.Bool("shuffle", true, "Randomize question order")
	f.Int("pin-max-uses", model.DefaultPinMaxUses, "Uses allowed on each newly generated PIN")
	f.String("base-path", "", "URL prefix for sub-path deployments (e.g. /cbt)")
	f.String("admin-password", "", "Administrator password (or set CBT_ADMIN_PASSWORD)")
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export exam results as JSON or CSV",
		RunE:  runExport,
	}
	storeFlags(cmd)
	f := cmd.Flags()
	f.StringP("format", "f", "json", "Output format (json, csv)")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	return cmd
}

func pinsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pins",
		Short: "Manage scratch-card PINs",
	}
	gen := &cobra.Command{
		Use:   "generate",
		Short: "Generate PINs and print them as text",
		RunE:  runPinsGenerate,
	}
	storeFlags(gen)
	f := gen.Flags()
	f.IntP("count", "n", 10, "Number of PINs to generate")
	f.Int("pin-max-uses", model.DefaultPinMaxUses, "Uses allowed on each PIN")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	cmd.AddCommand(gen)
	return cmd
}

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import data files",
	}
	questions := &cobra.Command{
		Use:   "questions FILE...",
		Short: "Import question bank JSON files into a subject",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runImportQuestions,
	}
	storeFlags(questions)
	questions.Flags().StringP("subject", "s", "", "Subject ID the questions belong to (required)")
	_ = questions.MarkFlagRequired("subject")
	cmd.AddCommand(questions)
	return cmd
}

func setupLogging(cmd *cobra.Command) {
	v := viperForCmd(cmd)

	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("CBT")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("cbtportal")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/cbtportal")
	v.AddConfigPath("/etc/cbtportal")
	v.AddConfigPath("/data")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Debug("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

// openStore opens the SQLite document store and wraps it with the portal's
// collections. The returned func closes the database.
func openStore(ctx context.Context, v *viper.Viper) (*store.Store, func(), error) {
	docs, err := docstore.OpenSQLite(v.GetString("db"))
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	st, err := store.New(ctx, docs, v.GetString("collection-prefix"))
	if err != nil {
		docs.Close()
		return nil, nil, fmt.Errorf("open store: %w", err)
	}
	return st, func() { docs.Close() }, nil
}

// outputWriter returns stdout for "" or "-" and a created file otherwise.
func outputWriter(path string) (io.Writer, func() error, error) {
	if path == "" || path == "-" {
		return os.Stdout, func() error { return nil }, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("create output file: %w", err)
	}
	return f, f.Close, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	password := v.GetString("admin-password")
	if password == "" {
		return fmt.Errorf("admin password is required: set --admin-password flag or CBT_ADMIN_PASSWORD env var")
	}
	adminHash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}

	st, closeStore, err := openStore(ctx, v)
	if err != nil {
		return err
	}
	defer closeStore()

	seeded, err := st.SeedSettings(ctx)
	if err != nil {
		return fmt.Errorf("seed settings: %w", err)
	}
	if seeded {
		slog.Info("seeded default site settings")
	}

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	// AI features stay off unless an endpoint is configured.
	var llmClient *llm.Client
	if url := v.GetString("llm-url"); url != "" {
		llmClient, err = llm.New(url, v.GetString("llm-key"), v.GetString("llm-model"))
		if err != nil {
			return fmt.Errorf("create LLM client: %w", err)
		}
		if err := llmClient.Ping(ctx); err != nil {
			return fmt.Errorf("LLM health check: %w", err)
		}
		slog.Info("LLM endpoint OK", "url", url, "model", v.GetString("llm-model"))
	}

	// Normalize base path.
	basePath := strings.TrimRight(v.GetString("base-path"), "/")
	if basePath != "" && !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}

	cfg := model.ServerConfig{
		Shuffle:    v.GetBool("shuffle"),
		PinMaxUses: v.GetInt("pin-max-uses"),
		BasePath:   basePath,
		Lang:       lang,
	}

	exams := exam.NewManager(st, exam.WithShuffle(cfg.Shuffle))
	pins := pin.NewService(st, cfg.PinMaxUses)

	h, err := handler.New(st, exams, pins, llmClient, adminHash, cfg)
	if err != nil {
		return fmt.Errorf("create handler: %w", err)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(appI18n.Middleware(lang))

	if basePath != "" {
		r.Route(basePath, func(sub chi.Router) {
			sub.Use(h.BasePathMiddleware)
			h.Routes(sub)
		})
		r.Get(basePath, func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, basePath+"/", http.StatusMovedPermanently)
		})
	} else {
		r.Use(h.BasePathMiddleware)
		h.Routes(r)
	}

	addr := v.GetString("addr")
	slog.Info("starting server",
		"addr", addr,
		"lang", lang,
		"shuffle", cfg.Shuffle,
		"pin_max_uses", pins.MaxUses(),
		"ai", llmClient != nil,
		"base_path", basePath,
	)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return srv.ListenAndServe()
}

func runExport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx := context.Background()

	format := strings.ToLower(v.GetString("format"))
	if format != "json" && format != "csv" {
		return fmt.Errorf("unknown format %q (want json or csv)", format)
	}

	st, closeStore, err := openStore(ctx, v)
	if err != nil {
		return err
	}
	defer closeStore()

	rows, err := st.ExportResults(ctx)
	if err != nil {
		return fmt.Errorf("export results: %w", err)
	}

	w, closeOut, err := outputWriter(v.GetString("output"))
	if err != nil {
		return err
	}

	if format == "csv" {
		err = report.WriteResultsCSV(w, rows)
	} else {
		settings, serr := st.GetSettings(ctx)
		if serr != nil {
			closeOut()
			return fmt.Errorf("load settings: %w", serr)
		}
		err = report.WriteResultsJSON(w, model.ResultExport{
			SchoolName: settings.SchoolName,
			ExportedAt: time.Now().UTC(),
			Results:    rows,
		})
	}
	if err != nil {
		closeOut()
		return fmt.Errorf("write output: %w", err)
	}
	slog.Info("exported results", "format", format, "count", len(rows))
	return closeOut()
}

func runPinsGenerate(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx := context.Background()

	st, closeStore, err := openStore(ctx, v)
	if err != nil {
		return err
	}
	defer closeStore()

	pins, err := pin.NewService(st, v.GetInt("pin-max-uses")).Generate(ctx, v.GetInt("count"))
	if err != nil {
		return fmt.Errorf("generate pins: %w", err)
	}

	w, closeOut, err := outputWriter(v.GetString("output"))
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintln(w, pin.ExportText(pins)); err != nil {
		closeOut()
		return fmt.Errorf("write output: %w", err)
	}
	return closeOut()
}

func runImportQuestions(cmd *cobra.Command, args []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx := context.Background()

	st, closeStore, err := openStore(ctx, v)
	if err != nil {
		return err
	}
	defer closeStore()

	subjectID := v.GetString("subject")
	if _, err := st.GetSubject(ctx, subjectID); err != nil {
		return err
	}

	for _, path := range args {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		if _, err := st.ImportQuestions(ctx, subjectID, filepath.Base(path), data); err != nil {
			return err
		}
	}
	return nil
}
