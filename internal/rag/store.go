package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"

	chromem "github.com/philippgille/chromem-go"
)

// Default similarity floors. Documents sit lower on purpose: their
// embeddings mix more general text than property listings do.
const (
	DefaultPropertyThreshold = 0.7
	DefaultDocumentThreshold = 0.2
)

const (
	propertyCollection = "properties"
	documentCollection = "documents"
)

// StoreConfig holds vector store configuration.
type StoreConfig struct {
	PersistPath string // empty = in-memory
}

// VectorStore is k-NN search and upsert over agent-scoped vectors. The
// agentID filter is applied at the store level: multi-tenant isolation is a
// correctness invariant, not a convenience.
type VectorStore interface {
	SearchProperties(ctx context.Context, queryEmbedding []float32, agentID string, k int, threshold float32) ([]PropertyMatch, error)
	SearchDocuments(ctx context.Context, queryEmbedding []float32, agentID string, k int, threshold float32) ([]DocumentMatch, error)
	UpsertProperty(ctx context.Context, doc PropertyDocument) error
	UpsertDocument(ctx context.Context, doc KnowledgeDocument) error
	DeleteProperty(ctx context.Context, id string) error
	Count() int
}

type chromemStore struct {
	db         *chromem.DB
	properties *chromem.Collection
	documents  *chromem.Collection
}

// NewVectorStore opens (or creates) the two collections. Embeddings are
// always supplied explicitly, so the collections carry no embedding func.
func NewVectorStore(cfg StoreConfig) (VectorStore, error) {
	var db *chromem.DB
	var err error
	if cfg.PersistPath != "" {
		db, err = chromem.NewPersistentDB(filepath.Join(cfg.PersistPath, "simsar.gob"), false)
		if err != nil {
			return nil, fmt.Errorf("open persistent vector store: %w", err)
		}
	} else {
		db = chromem.NewDB()
	}

	props, err := db.GetOrCreateCollection(propertyCollection, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("open %s collection: %w", propertyCollection, err)
	}
	docs, err := db.GetOrCreateCollection(documentCollection, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("open %s collection: %w", documentCollection, err)
	}

	return &chromemStore{db: db, properties: props, documents: docs}, nil
}

func (s *chromemStore) UpsertProperty(ctx context.Context, doc PropertyDocument) error {
	if doc.ID == "" || doc.AgentID == "" {
		return fmt.Errorf("property upsert requires id and agentId")
	}
	if len(doc.Embedding) == 0 {
		return fmt.Errorf("property %s has no embedding", doc.ID)
	}

	row, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode property %s: %w", doc.ID, err)
	}

	meta := map[string]string{
		"agentId":      doc.AgentID,
		"city":         doc.City,
		"district":     doc.District,
		"propertyType": doc.PropertyType,
		"bedrooms":     strconv.Itoa(doc.Bedrooms),
	}
	err = s.properties.AddDocument(ctx, chromem.Document{
		ID:        doc.ID,
		Content:   string(row),
		Embedding: doc.Embedding,
		Metadata:  meta,
	})
	if err != nil {
		return fmt.Errorf("upsert property %s: %w", doc.ID, err)
	}
	return nil
}

func (s *chromemStore) UpsertDocument(ctx context.Context, doc KnowledgeDocument) error {
	if doc.ID == "" || doc.AgentID == "" {
		return fmt.Errorf("document upsert requires id and agentId")
	}
	if len(doc.Embedding) == 0 {
		return fmt.Errorf("document %s has no embedding", doc.ID)
	}

	row, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode document %s: %w", doc.ID, err)
	}

	meta := map[string]string{
		"agentId":      doc.AgentID,
		"documentType": string(doc.DocumentType),
		"category":     doc.Category,
	}
	err = s.documents.AddDocument(ctx, chromem.Document{
		ID:        doc.ID,
		Content:   string(row),
		Embedding: doc.Embedding,
		Metadata:  meta,
	})
	if err != nil {
		return fmt.Errorf("upsert document %s: %w", doc.ID, err)
	}
	return nil
}

func (s *chromemStore) SearchProperties(ctx context.Context, queryEmbedding []float32, agentID string, k int, threshold float32) ([]PropertyMatch, error) {
	results, err := s.query(ctx, s.properties, queryEmbedding, agentID, k)
	if err != nil {
		return nil, fmt.Errorf("property search: %w", err)
	}

	var out []PropertyMatch
	for _, r := range results {
		if r.Similarity < threshold {
			continue
		}
		var doc PropertyDocument
		if err := json.Unmarshal([]byte(r.Content), &doc); err != nil {
			continue
		}
		doc.Embedding = r.Embedding
		out = append(out, PropertyMatch{Property: doc, Similarity: r.Similarity})
	}
	return out, nil
}

func (s *chromemStore) SearchDocuments(ctx context.Context, queryEmbedding []float32, agentID string, k int, threshold float32) ([]DocumentMatch, error) {
	results, err := s.query(ctx, s.documents, queryEmbedding, agentID, k)
	if err != nil {
		return nil, fmt.Errorf("document search: %w", err)
	}

	var out []DocumentMatch
	for _, r := range results {
		if r.Similarity < threshold {
			continue
		}
		var doc KnowledgeDocument
		if err := json.Unmarshal([]byte(r.Content), &doc); err != nil {
			continue
		}
		doc.Embedding = r.Embedding
		out = append(out, DocumentMatch{Document: doc, Similarity: r.Similarity})
	}
	return out, nil
}

// query runs a k-NN lookup scoped to one agent. chromem errors when asked
// for more results than the collection holds, so k is clamped.
func (s *chromemStore) query(ctx context.Context, col *chromem.Collection, embedding []float32, agentID string, k int) ([]chromem.Result, error) {
	if count := col.Count(); k > count {
		k = count
	}
	if k <= 0 {
		return nil, nil
	}
	return col.QueryEmbedding(ctx, embedding, k, map[string]string{"agentId": agentID}, nil)
}

func (s *chromemStore) DeleteProperty(ctx context.Context, id string) error {
	if err := s.properties.Delete(ctx, nil, nil, id); err != nil {
		return fmt.Errorf("delete property %s: %w", id, err)
	}
	return nil
}

func (s *chromemStore) Count() int {
	return s.properties.Count() + s.documents.Count()
}
