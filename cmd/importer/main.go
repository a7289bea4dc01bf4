package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"

	_ "github.com/go-sql-driver/mysql"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/semaphore"

	"dna_property_hub/internal/adapters/observability"
	redisad "dna_property_hub/internal/adapters/redis"
	"dna_property_hub/internal/adapters/taxonomy"
	"dna_property_hub/internal/app"
	"dna_property_hub/internal/domain"
	"dna_property_hub/internal/shared"
	"dna_property_hub/internal/storage/memory"
	mysqlrepo "dna_property_hub/internal/storage/mysql"
)

// taxonomyWriter is the slice of TaxonomyService the importer drives.
type taxonomyWriter interface {
	ListGroups(ctx context.Context, f domain.GroupFilter) ([]domain.FilterGroup, error)
	CreateGroup(ctx context.Context, in domain.GroupInput) (domain.FilterGroup, error)
	BulkCreateValues(ctx context.Context, groupID int64, in []domain.ValueInput) ([]domain.FilterValue, error)
}

type report struct {
	created, skipped, failed int64
}

type loadOptions struct {
	file         string
	token        string
	workers      int
	dryRun       bool
	skipExisting bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := shared.Load()
	root := &cobra.Command{
		Use:           "importer",
		Short:         "Bulk-load filter taxonomies",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			log.Logger = observability.NewLogger(cfg.AppEnv, cfg.LogFile)
		},
	}

	opts := loadOptions{workers: cfg.ImportWorkers}
	load := &cobra.Command{
		Use:   "load",
		Short: "Create the groups and values described by a YAML taxonomy file or URL",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			err := runLoad(ctx, cfg, opts)
			if err != nil {
				log.Error().Err(err).Msg("import failed")
			}
			return err
		},
	}
	load.Flags().StringVarP(&opts.file, "file", "f", "", "taxonomy file path or http(s) URL")
	load.Flags().StringVar(&opts.token, "token", os.Getenv("TAXONOMY_TOKEN"), "bearer token for URL sources")
	load.Flags().IntVarP(&opts.workers, "workers", "w", opts.workers, "groups imported concurrently")
	load.Flags().BoolVar(&opts.dryRun, "dry-run", false, "validate against an in-memory store, write nothing")
	load.Flags().BoolVar(&opts.skipExisting, "skip-existing", false, "skip groups whose slug already exists")
	_ = load.MarkFlagRequired("file")

	root.AddCommand(load)
	return root
}

func runLoad(ctx context.Context, cfg shared.Config, opts loadOptions) error {
	doc, err := taxonomy.Load(ctx, opts.file, taxonomy.NewFetcher(opts.token, 5))
	if err != nil {
		return err
	}
	log.Info().
		Str("source", opts.file).
		Int("groups", len(doc.Groups)).
		Int("workers", opts.workers).
		Bool("dry_run", opts.dryRun).
		Msg("importer starting")

	var svc taxonomyWriter
	if opts.dryRun {
		svc = app.NewTaxonomyService(memory.New(), nil)
	} else {
		db, err := sql.Open("mysql", cfg.MySQLDSN)
		if err != nil {
			return fmt.Errorf("sql.Open: %w", err)
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("db.Ping: %w", err)
		}
		log.Info().Msg("db ping ok")
		if cfg.AutoMigrate {
			if err := mysqlrepo.Migrate(ctx, db); err != nil {
				return err
			}
		}
		// writes go through the cache so running APIs drop stale reads
		svc = app.NewTaxonomyService(mysqlrepo.New(db), redisad.New(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB))
	}

	rep, err := importDocument(ctx, svc, doc, opts.workers, opts.skipExisting)
	if err != nil {
		return err
	}
	log.Info().
		Int64("created", rep.created).
		Int64("skipped", rep.skipped).
		Int64("failed", rep.failed).
		Msg("import completed")
	if rep.failed > 0 {
		return fmt.Errorf("%d of %d groups failed", rep.failed, len(doc.Groups))
	}
	return nil
}

// importDocument creates every group of doc and then its values, at most
// workers groups at a time. A failing group does not stop the others.
func importDocument(ctx context.Context, svc taxonomyWriter, doc taxonomy.Document, workers int, skipExisting bool) (*report, error) {
	if workers <= 0 {
		workers = 1
	}
	existing, err := svc.ListGroups(ctx, domain.GroupFilter{IncludeInactive: true})
	if err != nil {
		return nil, fmt.Errorf("list existing groups: %w", err)
	}
	taken := make(map[string]bool, len(existing))
	for _, g := range existing {
		taken[g.Slug] = true
	}

	rep := &report{}
	sem := semaphore.NewWeighted(int64(workers))
	var wg sync.WaitGroup

	for i, g := range doc.Groups {
		if skipExisting && taken[g.Slug] {
			atomic.AddInt64(&rep.skipped, 1)
			log.Info().Str("slug", g.Slug).Msg("group exists, skipped")
			continue
		}

		// acquire before launching the goroutine; release inside it
		if err := sem.Acquire(ctx, 1); err != nil {
			wg.Wait()
			return rep, err
		}
		wg.Add(1)
		go func(i int, g taxonomy.Group) {
			defer wg.Done()
			defer sem.Release(1)

			if err := importGroup(ctx, svc, g); err != nil {
				atomic.AddInt64(&rep.failed, 1)
				log.Warn().Int("index", i).Str("slug", g.Slug).Err(err).Msg("group import failed")
				return
			}
			atomic.AddInt64(&rep.created, 1)
			log.Info().Str("slug", g.Slug).Int("values", len(g.Values)).Msg("group imported")
		}(i, g)
	}

	wg.Wait()
	return rep, nil
}

func importGroup(ctx context.Context, svc taxonomyWriter, g taxonomy.Group) error {
	created, err := svc.CreateGroup(ctx, g.GroupInput)
	if err != nil {
		return err
	}
	if len(g.Values) == 0 {
		return nil
	}
	if _, err := svc.BulkCreateValues(ctx, created.ID, g.Values); err != nil {
		return fmt.Errorf("values of group %d: %w", created.ID, err)
	}
	return nil
}
