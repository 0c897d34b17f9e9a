package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"cloud.google.com/go/storage"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/theranostics/internal/config"
	"github.com/ehr/theranostics/internal/fhirclient"
	"github.com/ehr/theranostics/internal/imaging"
	"github.com/ehr/theranostics/internal/imaging/synth"
	"github.com/ehr/theranostics/internal/ingest"
	"github.com/ehr/theranostics/internal/platform/blobstore"
	"github.com/ehr/theranostics/internal/platform/db"
	"github.com/ehr/theranostics/internal/platform/events"
	"github.com/ehr/theranostics/internal/platform/secrets"
	"github.com/ehr/theranostics/internal/server"
	"github.com/ehr/theranostics/internal/tabular"
	"github.com/ehr/theranostics/internal/warehouse"
)

var version = "0.1.0"

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "theranostics",
		Short:         "Imaging metadata and FHIR patient ingestion",
		SilenceUsage:  true,
		SilenceErrors: false,
		Version:       version,
	}
	rootCmd.SetOut(out)

	rootCmd.AddCommand(ingestDicomCmd())
	rootCmd.AddCommand(fetchPatientsCmd())
	rootCmd.AddCommand(makeTestDicomCmd())
	rootCmd.AddCommand(serveCmd())

	return rootCmd
}

func ingestDicomCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest-dicom <dir> <out>",
		Short: "Extract DICOM header metadata from a directory into a table",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			parquet, _ := cmd.Flags().GetBool("parquet")
			workers, _ := cmd.Flags().GetInt("workers")
			loadDB, _ := cmd.Flags().GetBool("load-db")

			mode := dbOff
			if loadDB {
				mode = dbRequired
			}
			rt, err := newRuntime(cmd.Context(), mode)
			if err != nil {
				return err
			}
			defer rt.Close()

			res, err := rt.svc.IngestDirectory(cmd.Context(), ingest.ImagingRequest{
				Dir:     args[0],
				Out:     args[1],
				Parquet: parquet,
				LoadDB:  loadDB,
				Workers: workers,
			})
			if res.Path != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "Processed %d DICOM files, wrote %s\n", res.Count, res.Path)
			}
			return err
		},
	}
	cmd.Flags().Bool("parquet", false, "Write Parquet instead of CSV (falls back to <out>.csv)")
	cmd.Flags().Int("workers", 0, "Parallel extraction workers (default DICOM_WORKERS)")
	cmd.Flags().Bool("load-db", false, "COPY the records into the imaging_metadata table")
	return cmd
}

func fetchPatientsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fetch-patients <base-url> <out>",
		Short: "Page through FHIR Patient resources and write them to a file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			asCSV, _ := cmd.Flags().GetBool("csv")
			normalize, _ := cmd.Flags().GetBool("normalize")
			pageSize, _ := cmd.Flags().GetInt("page-size")

			rt, err := newRuntime(cmd.Context(), dbOff)
			if err != nil {
				return err
			}
			defer rt.Close()
			if pageSize <= 0 {
				pageSize = rt.cfg.FHIRPageSize
			}

			res, err := rt.svc.FetchPatients(cmd.Context(), ingest.PatientsRequest{
				BaseURL:   args[0],
				Out:       args[1],
				PageSize:  pageSize,
				CSV:       asCSV,
				Normalize: normalize,
			})
			if res.Path != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "Fetched %d Patient resources, wrote %s\n", res.Count, res.Path)
			}
			return err
		},
	}
	cmd.Flags().Bool("csv", false, "Write normalised CSV instead of NDJSON")
	cmd.Flags().Bool("normalize", false, "Write normalised records instead of raw resources")
	cmd.Flags().Int("page-size", 0, "Resources per page (default FHIR_PAGE_SIZE)")
	return cmd
}

func makeTestDicomCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "make-test-dicom <dir>",
		Short: "Write minimal synthetic DICOM files for testing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			count, _ := cmd.Flags().GetInt("count")
			paths, err := synth.Generate(args[0], count)
			for _, p := range paths {
				fmt.Fprintln(cmd.OutOrStdout(), "Wrote", p)
			}
			return err
		},
	}
	cmd.Flags().Int("count", 1, "Number of files to create")
	return cmd
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the ingestion trigger server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}
}

// runtime holds the configured service and everything that must be closed
// when a command finishes.
type runtime struct {
	cfg     *config.Config
	logger  zerolog.Logger
	svc     *ingest.Service
	pool    *pgxpool.Pool
	closers []func() error
}

func (r *runtime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			r.logger.Warn().Err(err).Msg("close failed")
		}
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	}
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	return logger.Level(level)
}

type dbMode int

const (
	dbOff dbMode = iota
	dbRequired
	// dbIfConfigured opens the pool only when DATABASE_URL is set.
	dbIfConfigured
)

// newRuntime loads configuration and wires the optional sinks.
func newRuntime(ctx context.Context, mode dbMode) (*runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	rt := &runtime{cfg: cfg, logger: newLogger(cfg)}

	ok := false
	defer func() {
		if !ok {
			rt.Close()
		}
	}()

	svc, err := ingest.NewService(imaging.NewPartTenDecoder(cfg.DICOMLenientReadLimit), tabular.ParquetEncoder{}, rt.logger)
	if err != nil {
		return nil, err
	}
	svc.SetWorkers(cfg.DICOMWorkers)

	token := cfg.FHIRBearerToken
	if secrets.IsReference(token) {
		resolver, closeFn, err := secrets.NewSecretManagerResolver(ctx, cfg.GCPProjectID)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, closeFn)
		if token, err = resolver.Resolve(ctx, token); err != nil {
			return nil, fmt.Errorf("resolve FHIR_BEARER_TOKEN: %w", err)
		}
	}
	svc.SetFHIROptions(
		fhirclient.WithTimeout(cfg.FHIRTimeout),
		fhirclient.WithMaxPages(cfg.FHIRMaxPages),
		fhirclient.WithBearerToken(token),
	)

	store, err := newStore(ctx, cfg, rt)
	if err != nil {
		return nil, err
	}
	if store != nil {
		svc.SetStore(store)
	}

	if cfg.AMQPURL != "" {
		pub, err := events.DialAMQP(cfg.AMQPURL, cfg.EventsQueue, rt.logger)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, pub.Close)
		svc.SetPublisher(pub)
	}

	if mode == dbRequired && cfg.DatabaseURL == "" {
		return nil, ingest.ErrWarehouseDisabled
	}
	if mode != dbOff && cfg.DatabaseURL != "" {
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return nil, err
		}
		rt.pool = pool
		rt.closers = append(rt.closers, func() error { pool.Close(); return nil })

		loader := warehouse.NewLoader(pool)
		if err := loader.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		svc.SetLoader(loader)
	}

	rt.svc = svc
	ok = true
	return rt, nil
}

func newStore(ctx context.Context, cfg *config.Config, rt *runtime) (blobstore.Store, error) {
	switch cfg.ArtifactStore {
	case config.StoreGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client: %w", err)
		}
		rt.closers = append(rt.closers, client.Close)
		return blobstore.NewGCSStore(client, cfg.ArtifactBucket), nil
	case config.StoreMinio:
		client, err := blobstore.NewMinioClient(blobstore.MinioOptions{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			return nil, err
		}
		return blobstore.NewMinioStore(client, cfg.ArtifactBucket), nil
	}
	return nil, nil
}

func serverOptions(cfg *config.Config, logger zerolog.Logger) server.Options {
	return server.Options{
		Logger:     logger,
		DevAuth:    cfg.IsDev(),
		SigningKey: []byte(cfg.AuthSigningKey),
		Issuer:     cfg.AuthIssuer,
		Audience:   cfg.AuthAudience,
	}
}

func runServer(ctx context.Context) error {
	rt, err := newRuntime(ctx, dbIfConfigured)
	if err != nil {
		return err
	}
	defer rt.Close()
	cfg, logger := rt.cfg, rt.logger

	h := server.NewHandler(rt.svc, logger)
	h.SetFHIRDefaults(cfg.FHIRBaseURL, cfg.FHIRPageSize)
	h.SetVersion(version)
	if rt.pool != nil {
		h.SetDatabase(rt.pool)
		logger.Info().Msg("connected to database")
	}

	e := server.New(h, serverOptions(cfg, logger))

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	logger.Info().Msg("server stopped")
	return nil
}
