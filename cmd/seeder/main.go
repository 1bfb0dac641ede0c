package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"

	"delphi/internal/adapters/config"
	"delphi/internal/adapters/embeddings"
	pgclient "delphi/internal/adapters/postgres"
	"delphi/internal/domain/corpus"
	pgrepo "delphi/internal/repository/postgres"
	"delphi/pkg/logger"
)

// glossaryEntry is one document in the seed file.
type glossaryEntry struct {
	Term    string `json:"term"`
	Content string `json:"content"`
	Source  string `json:"source"`
}

// Seeder loads a glossary JSON file, embeds each entry, and stores it in
// the retrieval corpus. Safe to re-run: entries are appended, retrieval
// ranks by similarity so duplicates only waste space.
func main() {
	file := flag.String("file", "data/glossary.json", "Path to glossary JSON file")
	dryRun := flag.Bool("dry-run", false, "Parse and validate the file without writing")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	if err := logger.Init(cfg.App.LogLevel, cfg.App.Env); err != nil {
		panic("failed to init logger: " + err.Error())
	}
	defer logger.Sync()
	log := logger.Get()

	entries, err := loadGlossary(*file)
	if err != nil {
		log.Fatalf("Failed to load glossary %s: %v", *file, err)
	}
	log.Infow("Loaded glossary", "file", *file, "entries", len(entries))

	if *dryRun {
		log.Info("✅ Dry-run mode: glossary validated")
		return
	}

	pg, err := pgclient.NewClient(cfg.Postgres)
	if err != nil {
		log.Fatalf("Failed to connect to PostgreSQL: %v", err)
	}
	defer pg.Close()

	embedder, err := embeddings.NewOpenAIProvider(cfg.AI.OpenAIKey, cfg.AI.EmbeddingModel, cfg.AI.Timeout)
	if err != nil {
		log.Fatalf("Failed to init embeddings provider: %v", err)
	}

	svc := corpus.NewService(pgrepo.NewCorpusRepository(pg.DB()), embedder, corpus.Config{
		Collection:      cfg.Retrieval.Collection,
		TopK:            cfg.Retrieval.TopK,
		SimilarityFloor: cfg.Retrieval.SimilarityFloor,
	})

	ctx := context.Background()
	for i, entry := range entries {
		if err := svc.Ingest(ctx, entry.Term, entry.Content, entry.Source); err != nil {
			log.Errorw("Failed to ingest entry", "step", i+1, "term", entry.Term, "error", err)
			continue
		}
		log.Infow("Ingested entry", "step", i+1, "total", len(entries), "term", entry.Term)
	}

	size, err := svc.Size(ctx)
	if err != nil {
		log.Warnf("Failed to count corpus: %v", err)
		return
	}
	log.Infow("✅ Seeding complete", "collection", cfg.Retrieval.Collection, "documents", size)
}

func loadGlossary(path string) ([]glossaryEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var entries []glossaryEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}
