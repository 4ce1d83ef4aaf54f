package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Ingestor turns raw properties and documents into stored unit vectors.
type Ingestor struct {
	chunker  *Chunker
	embedder Embedder
	store    VectorStore
}

// NewIngestor wires the ingestion pipeline.
func NewIngestor(chunker *Chunker, embedder Embedder, store VectorStore) *Ingestor {
	return &Ingestor{chunker: chunker, embedder: embedder, store: store}
}

// IngestProperty builds the embedding text, chunks it, embeds every chunk,
// and stores a single similarity-preserving unit vector for the property.
func (n *Ingestor) IngestProperty(ctx context.Context, doc PropertyDocument) error {
	if doc.EmbeddingText == "" {
		doc.EmbeddingText = BuildPropertyEmbeddingText(doc)
	}

	chunks := n.chunker.Split(doc.EmbeddingText)
	if len(chunks) == 0 {
		return fmt.Errorf("property %s: nothing to embed", doc.ID)
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vecs, err := n.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed property %s: %w", doc.ID, err)
	}

	// Multiple chunks collapse into one vector: component-wise average then
	// L2 normalization, so cosine similarity stays meaningful.
	doc.Embedding = AverageVectors(vecs)

	if err := n.store.UpsertProperty(ctx, doc); err != nil {
		return err
	}
	slog.Info("property ingested", "propertyId", doc.ID, "agentId", doc.AgentID, "chunks", len(chunks))
	return nil
}

// IngestDocument chunks the document body, stores the chunks for context
// formatting, and embeds title + description + body into one unit vector.
func (n *Ingestor) IngestDocument(ctx context.Context, doc KnowledgeDocument, body string) error {
	if body != "" {
		chunks := n.chunker.Split(body)
		doc.ContentChunks = make([]string, len(chunks))
		for i, c := range chunks {
			doc.ContentChunks[i] = c.Text
		}
	}

	parts := []string{doc.Title, doc.Description}
	parts = append(parts, doc.ContentChunks...)
	texts := compact(parts)
	if len(texts) == 0 {
		return fmt.Errorf("document %s: nothing to embed", doc.ID)
	}

	vecs, err := n.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed document %s: %w", doc.ID, err)
	}
	doc.Embedding = AverageVectors(vecs)

	if err := n.store.UpsertDocument(ctx, doc); err != nil {
		return err
	}
	slog.Info("document ingested", "documentId", doc.ID, "agentId", doc.AgentID, "type", doc.DocumentType)
	return nil
}

// BuildPropertyEmbeddingText renders the canonical retrieval text for a
// property listing.
func BuildPropertyEmbeddingText(doc PropertyDocument) string {
	var b strings.Builder
	write := func(label, value string) {
		if value != "" {
			fmt.Fprintf(&b, "%s: %s\n", label, value)
		}
	}

	write("Property", doc.Title)
	write("Type", doc.PropertyType)
	if doc.City != "" || doc.District != "" {
		write("Location", strings.TrimSuffix(strings.TrimSpace(doc.City+" "+doc.District), " "))
	}
	if doc.BasePrice > 0 {
		currency := doc.Currency
		if currency == "" {
			currency = "EGP"
		}
		write("Price", fmt.Sprintf("%.0f %s", doc.BasePrice, currency))
	}
	if doc.AreaSqm > 0 {
		write("Area", fmt.Sprintf("%.0f sqm", doc.AreaSqm))
	}
	if doc.Bedrooms > 0 {
		write("Bedrooms", fmt.Sprintf("%d", doc.Bedrooms))
	}
	if doc.Bathrooms > 0 {
		write("Bathrooms", fmt.Sprintf("%d", doc.Bathrooms))
	}
	if len(doc.Amenities) > 0 {
		write("Amenities", strings.Join(doc.Amenities, ", "))
	}
	for _, p := range doc.PaymentPlans {
		write("Payment plan", fmt.Sprintf("%s: %.0f%% down, %d years", p.Name, p.DownPaymentPercent, p.Years))
	}
	write("Description", doc.Description)
	return b.String()
}

func compact(in []string) []string {
	var out []string
	for _, s := range in {
		if strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}
