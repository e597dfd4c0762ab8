// search-cli runs a single query against the local index and prints the
// results. Useful for smoke-testing the pipeline without the HTTP server.
//
// Usage:
//
//	search-cli [flags] <query...>
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/scpdb/semsearch/pkg/chunkstore"
	"github.com/scpdb/semsearch/pkg/hnsw"
	"github.com/scpdb/semsearch/pkg/records"
	"github.com/scpdb/semsearch/pkg/search"
	"github.com/scpdb/semsearch/pkg/searchconfig"
	"github.com/scpdb/semsearch/pkg/vectordb"
	"github.com/scpdb/semsearch/pkg/vectorindex"
)

var (
	dbPath  = flag.String("db", "", "Path to SQLite database (defaults to database.sqlite from config)")
	cfgPath = flag.String("config", "", "Path to search.yaml (auto-detected if not specified)")
	topk    = flag.Int("topk", 0, "Maximum number of results (defaults to search.topk from config)")
	asJSON  = flag.Bool("json", false, "Print results as JSON")
	debug   = flag.Bool("debug", false, "Enable debug logging")
)

func main() {
	flag.Parse()
	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: search-cli [flags] <query...>")
		flag.PrintDefaults()
		os.Exit(2)
	}
	query := strings.Join(flag.Args(), " ")

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	}

	cfg, err := searchconfig.LoadFromFlagOrDir(*cfgPath, ".")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	sqlitePath := *dbPath
	if sqlitePath == "" {
		sqlitePath = cfg.Database.SQLite
	}

	chunks, err := chunkstore.Open(sqlitePath)
	if err != nil {
		log.Fatal().Err(err).Str("path", sqlitePath).Msg("Failed to open chunk store")
	}
	defer chunks.Close()
	db := chunks.DB()

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

	var scorer search.Scorer
	switch cfg.Rerank.Strategy {
	case searchconfig.RerankLexical:
		scorer = search.LexicalScorer{}
	default:
		scorer = vectordb.NewRerankClient(vectordb.RerankConfig{
			BaseURL: cfg.Rerank.BaseURL,
			Model:   cfg.Rerank.Model,
		})
	}

	service := search.New(cfg, records.New(db), chunks, index, embedder, scorer, log.Logger)
	results := service.Search(context.Background(), query, *topk)

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(results); err != nil {
			log.Fatal().Err(err).Msg("Failed to encode results")
		}
		return
	}

	if len(results) == 0 {
		fmt.Println("no results")
		return
	}
	for i, r := range results {
		fmt.Printf("%2d. [%.3f] %s  %s (%s)\n", i+1, r.Score, r.DisplayCode, r.Title, r.Subtitle)
		if r.Snippet != "" {
			fmt.Printf("    %s\n", r.Snippet)
		}
	}
}
