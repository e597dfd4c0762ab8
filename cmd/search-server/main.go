// search-server is the HTTP API server for the semantic retrieval pipeline.
//
// Endpoints:
//   - GET  /search  - Hybrid vector+keyword search over indexed records
//   - GET  /stats   - Index and chunk store statistics
//   - GET  /health  - Health check
package main

import (
	"context"
	"encoding/json"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

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
	addr    = flag.String("addr", ":8090", "HTTP listen address")
	dbPath  = flag.String("db", "", "Path to SQLite database (defaults to database.sqlite from config)")
	cfgPath = flag.String("config", "", "Path to search.yaml (auto-detected if not specified)")
	debug   = flag.Bool("debug", false, "Enable debug logging")
	corsAny = flag.Bool("cors-any", false, "Allow CORS from any origin (for development)")
)

func main() {
	flag.Parse()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	cfg, err := searchconfig.LoadFromFlagOrDir(*cfgPath, ".")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	log.Info().Str("embedding", cfg.EmbeddingIdentity()).Msg("Loaded configuration")

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
	log.Info().Str("path", sqlitePath).Msg("Connected to SQLite")

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

	mux := http.NewServeMux()
	wrap := func(h http.HandlerFunc) http.HandlerFunc {
		if *corsAny {
			return corsMiddleware(h)
		}
		return h
	}

	mux.HandleFunc("GET /search", wrap(searchHandler(service, cfg)))
	mux.HandleFunc("GET /stats", wrap(statsHandler(cfg, chunks, index)))
	mux.HandleFunc("GET /health", wrap(healthHandler(embedder)))
	if *corsAny {
		mux.HandleFunc("OPTIONS /search", corsMiddleware(func(w http.ResponseWriter, r *http.Request) {}))
	}

	server := &http.Server{
		Addr:         *addr,
		Handler:      loggingMiddleware(mux),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		log.Info().Msg("Shutting down server...")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("Server shutdown error")
		}
	}()

	log.Info().Str("addr", *addr).Msg("Starting search server")
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("Server error")
	}

	log.Info().Msg("Server stopped")
}

// searchHandler handles GET /search requests
func searchHandler(svc *search.Service, cfg *searchconfig.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query().Get("q")
		if query == "" {
			writeError(w, http.StatusBadRequest, "missing query parameter q")
			return
		}
		topk := parseIntDefault(r.URL.Query().Get("topk"), cfg.Search.TopK)

		results := svc.Search(r.Context(), query, topk)
		writeJSON(w, http.StatusOK, map[string]any{
			"query":   query,
			"count":   len(results),
			"results": results,
		})
	}
}

// statsHandler handles GET /stats requests
func statsHandler(cfg *searchconfig.Config, chunks *chunkstore.Store, index *vectorindex.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		count, err := chunks.Count(r.Context())
		if err != nil {
			log.Error().Err(err).Msg("Stats failed")
			writeError(w, http.StatusInternalServerError, "stats failed")
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"chunks_stored":   count,
			"vectors_indexed": index.Size(),
			"config_hash":     cfg.Hash(),
		})
	}
}

// healthHandler handles GET /health requests
func healthHandler(embedder *vectordb.EmbeddingClient) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		embeddingUp := embedder.IsAvailable(r.Context())

		status := "ok"
		if !embeddingUp {
			// Keyword search and the fast path still work without embeddings.
			status = "degraded"
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"status":            status,
			"embedding_service": embeddingUp,
		})
	}
}

// loggingMiddleware logs HTTP requests
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("query", r.URL.RawQuery).
			Int("status", wrapped.status).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}

// corsMiddleware adds CORS headers for development
func corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next(w, r)
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	if i, err := strconv.Atoi(s); err == nil {
		return i
	}
	return def
}
