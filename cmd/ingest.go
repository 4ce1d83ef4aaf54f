package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/simsarhq/simsar/internal/config"
	"github.com/simsarhq/simsar/internal/rag"
)

// documentFile is a KnowledgeDocument plus the raw body to chunk and embed.
type documentFile struct {
	rag.KnowledgeDocument
	Content string `json:"content"`
}

func ingestCmd() *cobra.Command {
	var propertiesPath, documentsPath string

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Load properties and knowledge documents into the vector store",
		RunE: func(cmd *cobra.Command, args []string) error {
			if propertiesPath == "" && documentsPath == "" {
				return fmt.Errorf("nothing to ingest: pass --properties and/or --documents")
			}
			return runIngest(cmd.Context(), propertiesPath, documentsPath)
		},
	}
	cmd.Flags().StringVar(&propertiesPath, "properties", "", "JSON file with an array of properties")
	cmd.Flags().StringVar(&documentsPath, "documents", "", "JSON file with an array of documents")
	return cmd
}

func runIngest(ctx context.Context, propertiesPath, documentsPath string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	chunker, err := rag.NewChunker(rag.ChunkerConfig{})
	if err != nil {
		return fmt.Errorf("create chunker: %w", err)
	}
	embedder, err := rag.NewEmbedder(rag.EmbedderConfig{
		APIKey:     cfg.LLMAPIKey,
		BaseURL:    cfg.LLMBaseURL,
		Model:      cfg.EmbeddingModel,
		Dimensions: cfg.EmbeddingDimensions,
	})
	if err != nil {
		return fmt.Errorf("create embedder: %w", err)
	}
	vectors, err := rag.NewVectorStore(rag.StoreConfig{PersistPath: cfg.VectorPersistPath})
	if err != nil {
		return fmt.Errorf("open vector store: %w", err)
	}
	ingestor := rag.NewIngestor(chunker, embedder, vectors)

	if propertiesPath != "" {
		var props []rag.PropertyDocument
		if err := readJSON(propertiesPath, &props); err != nil {
			return err
		}
		for _, p := range props {
			if err := ingestor.IngestProperty(ctx, p); err != nil {
				return fmt.Errorf("property %s: %w", p.ID, err)
			}
		}
		fmt.Printf("ingested %d properties\n", len(props))
	}

	if documentsPath != "" {
		var docs []documentFile
		if err := readJSON(documentsPath, &docs); err != nil {
			return err
		}
		for _, d := range docs {
			if err := ingestor.IngestDocument(ctx, d.KnowledgeDocument, d.Content); err != nil {
				return fmt.Errorf("document %s: %w", d.ID, err)
			}
		}
		fmt.Printf("ingested %d documents\n", len(docs))
	}

	fmt.Printf("vector store now holds %d entries\n", vectors.Count())
	return nil
}

func readJSON(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}
