// Package main is the rowsage admin CLI: sync a knowledge source,
// inspect sync status, and mint access tokens.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/rowsage/rowsage/internal/api/middleware"
	"github.com/rowsage/rowsage/internal/chunker"
	"github.com/rowsage/rowsage/internal/config"
	"github.com/rowsage/rowsage/internal/embedder"
	"github.com/rowsage/rowsage/internal/events"
	"github.com/rowsage/rowsage/internal/ingest"
	"github.com/rowsage/rowsage/internal/storage"
	"github.com/rowsage/rowsage/pkg/logger"
)

// Version information (set during build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

// SyncOptions holds options for the sync command.
type SyncOptions struct {
	Label   string
	AsText  bool
	Timeout time.Duration
}

// TokenOptions holds options for the token command.
type TokenOptions struct {
	User string
	Role string
	TTL  time.Duration
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	rootCmd := &cobra.Command{
		Use:     "rowsage",
		Short:   "rowsage admin CLI",
		Long:    "Admin tooling for the rowsage answer service: sync the knowledge base, check its status, and mint access tokens.",
		Version: fmt.Sprintf("%s (built %s)", Version, BuildTime),
	}

	rootCmd.AddCommand(newSyncCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newTokenCmd())

	return rootCmd.Execute()
}

// newSyncCmd creates the sync subcommand.
func newSyncCmd() *cobra.Command {
	opts := &SyncOptions{}

	cmd := &cobra.Command{
		Use:   "sync <file>",
		Short: "Replace the knowledge base from a CSV file",
		Long:  "Reads a CSV file, replaces the current knowledge base with one chunk per data row, and embeds the chunks when an embedding key is configured.",
		Example: `  # Sync a CSV knowledge source
  rowsage sync people.csv

  # Sync with an explicit source label
  rowsage sync people.csv --label "staff directory"

  # Sync a free-text document with sliding-window chunking
  rowsage sync notes.txt --text`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(args[0], opts)
		},
	}

	cmd.Flags().StringVar(&opts.Label, "label", "", "source label recorded in sync status (default: file name)")
	cmd.Flags().BoolVar(&opts.AsText, "text", false, "treat the file as free text instead of CSV")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 15*time.Minute, "overall sync timeout")

	return cmd
}

func runSync(path string, opts *SyncOptions) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	label := opts.Label
	if label == "" {
		label = filepath.Base(path)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	// The CLI prints its own progress; keep log noise down.
	log := logger.New(logger.Config{Level: "warn", Format: "text"})

	db, err := connectDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	chunkStore := storage.NewPgChunkStore(db, log.Logger)
	statusStore := storage.NewPgSyncStatusStore(db, log.Logger)

	ck, err := chunker.New(chunker.DefaultConfig())
	if err != nil {
		return fmt.Errorf("failed to initialize chunker: %w", err)
	}

	var emb ingest.Embedder
	if key := cfg.AI.EmbeddingKey(); key != "" {
		embConfig := embedder.DefaultConfig(key)
		embConfig.BaseURL = cfg.AI.BaseURL
		embConfig.Model = cfg.AI.EmbeddingModel

		openaiEmbedder, err := embedder.NewOpenAIEmbedder(embConfig, log)
		if err != nil {
			return fmt.Errorf("failed to initialize embedder: %w", err)
		}
		emb = openaiEmbedder
	} else {
		fmt.Fprintln(os.Stderr, "warning: no embedding key configured, chunks will be stored without embeddings")
	}

	var archive storage.ObjectStorage
	if cfg.Storage.Endpoint != "" {
		minioStorage, err := storage.NewMinIOStorage(storage.MinIOConfig{
			Endpoint:        cfg.Storage.Endpoint,
			AccessKeyID:     cfg.Storage.AccessKeyID,
			SecretAccessKey: cfg.Storage.SecretAccessKey,
			BucketName:      cfg.Storage.BucketName,
			UseSSL:          cfg.Storage.UseSSL,
			Region:          cfg.Storage.Region,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "warning: object storage unavailable, skipping source archive: %v\n", err)
		} else {
			archive = minioStorage
		}
	}

	// Publish the sync event so running instances drop their caches.
	var publisher ingest.Publisher
	if cfg.NATS.URL != "" {
		busConfig := events.DefaultConfig()
		busConfig.URL = cfg.NATS.URL
		busConfig.Name = cfg.NATS.Name + "-cli"
		bus, err := events.NewBus(busConfig, log.Logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "warning: NATS unavailable, running instances keep stale caches: %v\n", err)
		} else {
			defer bus.Close()
			publisher = bus
		}
	}

	pipeline := ingest.NewPipeline(chunkStore, statusStore, ck, emb, archive, publisher, nil, log)

	var bar *progressbar.ProgressBar
	pipeline.Progress = func(completed, total int) {
		if bar == nil {
			bar = progressbar.NewOptions(total,
				progressbar.OptionSetDescription("Inserting chunks"),
				progressbar.OptionShowCount(),
				progressbar.OptionSetTheme(progressbar.Theme{
					Saucer:        "=",
					SaucerHead:    ">",
					SaucerPadding: " ",
					BarStart:      "[",
					BarEnd:        "]",
				}),
			)
		}
		_ = bar.Set(completed)
	}

	ctx, cancel := context.WithTimeout(context.Background(), opts.Timeout)
	defer cancel()

	start := time.Now()
	var result ingest.Result
	if opts.AsText {
		result, err = pipeline.SyncText(ctx, string(data), label)
	} else {
		result, err = pipeline.Sync(ctx, data, label)
	}
	if bar != nil {
		_ = bar.Finish()
		fmt.Println()
	}
	if err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}

	fmt.Printf("synced %q: %d chunks from %d rows in %s\n",
		label, result.ChunkCount, result.RowCount, time.Since(start).Round(time.Millisecond))
	return nil
}

// newStatusCmd creates the status subcommand.
func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show knowledge base sync status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus()
		},
	}
}

func runStatus() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	log := logger.New(logger.Config{Level: "warn", Format: "text"})

	db, err := connectDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	status, err := storage.NewPgSyncStatusStore(db, log.Logger).Get(ctx)
	if err != nil {
		return fmt.Errorf("failed to read sync status: %w", err)
	}

	fmt.Printf("status:      %s\n", status.Status)
	fmt.Printf("chunks:      %d\n", status.ChunkCount)
	if status.DocTitle != "" {
		fmt.Printf("source:      %s\n", status.DocTitle)
	}
	if status.LastSyncedAt != nil {
		fmt.Printf("last synced: %s\n", status.LastSyncedAt.Format(time.RFC3339))
	}
	if status.ErrorMessage != "" {
		fmt.Printf("error:       %s\n", status.ErrorMessage)
	}
	return nil
}

// newTokenCmd creates the token subcommand.
func newTokenCmd() *cobra.Command {
	opts := &TokenOptions{}

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an access token",
		Long:  "Signs a bearer token with the configured JWT secret. Admin tokens can run syncs; user tokens can chat and read their own conversations.",
		Example: `  # Token for a regular user
  rowsage token --user alice

  # Admin token valid for a week
  rowsage token --user ops --role admin --ttl 168h`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runToken(opts)
		},
	}

	cmd.Flags().StringVar(&opts.User, "user", "", "user ID (subject claim)")
	cmd.Flags().StringVar(&opts.Role, "role", middleware.RoleUser, "role claim: user or admin")
	cmd.Flags().DurationVar(&opts.TTL, "ttl", 24*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}

func runToken(opts *TokenOptions) error {
	if opts.Role != middleware.RoleUser && opts.Role != middleware.RoleAdmin {
		return fmt.Errorf("invalid role %q: must be user or admin", opts.Role)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is not set")
	}

	token, err := middleware.NewJWTValidator(cfg.Auth.JWTSecret).MintToken(middleware.Identity{
		UserID: opts.User,
		Role:   opts.Role,
	}, opts.TTL)
	if err != nil {
		return fmt.Errorf("failed to sign token: %w", err)
	}

	fmt.Println(token)
	return nil
}

// connectDB opens the configured Postgres pool.
func connectDB(cfg *config.Config) (*storage.PostgresDB, error) {
	db, err := storage.NewPostgres(storage.PostgresConfig{
		Host:         cfg.Database.Host,
		Port:         cfg.Database.Port,
		User:         cfg.Database.User,
		Password:     cfg.Database.Password,
		Database:     cfg.Database.Database,
		SSLMode:      cfg.Database.SSLMode,
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}
