// sync-index reconciles the chunk store and vector index with the record
// database. Run it once after content changes, or with -interval for
// periodic reconciliation.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/scpdb/semsearch/pkg/chunkstore"
	"github.com/scpdb/semsearch/pkg/hnsw"
	"github.com/scpdb/semsearch/pkg/records"
	"github.com/scpdb/semsearch/pkg/searchconfig"
	"github.com/scpdb/semsearch/pkg/syncer"
	"github.com/scpdb/semsearch/pkg/vectordb"
	"github.com/scpdb/semsearch/pkg/vectorindex"
)

var (
	dbPath   = flag.String("db", "", "Path to SQLite database (defaults to database.sqlite from config)")
	cfgPath  = flag.String("config", "", "Path to search.yaml (auto-detected if not specified)")
	interval = flag.Duration("interval", 0, "Re-sync interval (0 = run once and exit)")
	debug    = flag.Bool("debug", false, "Enable debug logging")
)

func main() {
	flag.Parse()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	cfg, err := searchconfig.LoadFromFlagOrDir(*cfgPath, ".")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	sqlitePath := *dbPath
	if sqlitePath == "" {
		sqlitePath = cfg.Database.SQLite
	}
	if sqlitePath == "" {
		log.Fatal().Msg("SQLite database path is empty (set -db or database.sqlite in search.yaml)")
	}

	chunks, err := chunkstore.Open(sqlitePath)
	if err != nil {
		log.Fatal().Err(err).Str("path", sqlitePath).Msg("Failed to open chunk store")
	}
	defer chunks.Close()

	db := chunks.DB()
	if err := db.Ping(); err != nil {
		log.Fatal().Err(err).Msg("SQLite database not accessible")
	}

	index := vectorindex.NewManager(cfg.Index.Path, cfg.Embedding.Dimension, hnsw.Config{
		M:              cfg.Index.M,
		EfConstruction: cfg.Index.EfConstruction,
		EfSearch:       cfg.Index.EfSearch,
	}, log.Logger)
	if err := index.EnsureReady(context.Background(), chunks); err != nil {
		log.Fatal().Err(err).Msg("Failed to load vector index")
	}

	embedder := vectordb.NewEmbeddingClient(vectordb.EmbeddingConfig{
		BaseURL:   cfg.Embedding.BaseURL,
		Model:     cfg.Embedding.Model,
		Dimension: cfg.Embedding.Dimension,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info().Msg("Interrupted, finishing current run")
		cancel()
	}()

	engine := syncer.New(cfg, records.New(db), chunks, index, embedder, log.Logger)

	for {
		stats, err := engine.Sync(ctx)
		if err != nil {
			if *interval == 0 {
				log.Fatal().Err(err).Msg("Sync failed")
			}
			log.Error().Err(err).Msg("Sync failed, will retry next interval")
		} else {
			log.Info().
				Int("added", stats.EntitiesAdded).
				Int("removed", stats.EntitiesRemoved).
				Int("failed", stats.EntitiesFailed).
				Int("chunks", stats.ChunksWritten).
				Bool("rebuilt", stats.Rebuilt).
				Msg("Sync finished")
		}

		if *interval == 0 {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(*interval):
		}
	}
}
