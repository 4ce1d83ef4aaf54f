package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/simsarhq/simsar/internal/intent"
)

// Source selects which stores a retrieval touches.
type Source string

const (
	SourceProperties Source = "PROPERTIES"
	SourceDocuments  Source = "DOCUMENTS"
	SourceBoth       Source = "BOTH"
)

// RetrieverConfig holds retrieval defaults.
type RetrieverConfig struct {
	TopK              int     // default 5
	PropertyThreshold float32 // default 0.7
	DocumentThreshold float32 // default 0.2
}

// Options steer one retrieval call.
type Options struct {
	Source  Source // empty = auto-detect from the query
	TopK    int
	Filters intent.SearchFilters
}

// Context is the fused retrieval result handed to the prompt builder.
type Context struct {
	Properties      []PropertyMatch
	Documents       []DocumentMatch
	CombinedContext string
	Sources         []Source
}

// Retriever fuses property and document search into one LLM context block.
type Retriever struct {
	cfg      RetrieverConfig
	embedder Embedder
	store    VectorStore
}

// NewRetriever creates a retriever (zero config values take defaults).
func NewRetriever(cfg RetrieverConfig, embedder Embedder, store VectorStore) *Retriever {
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	if cfg.PropertyThreshold == 0 {
		cfg.PropertyThreshold = DefaultPropertyThreshold
	}
	if cfg.DocumentThreshold == 0 {
		cfg.DocumentThreshold = DefaultDocumentThreshold
	}
	return &Retriever{cfg: cfg, embedder: embedder, store: store}
}

// RetrieveContext embeds the query, searches the selected sources with the
// agentID filter, applies post-hoc metadata filters, and formats the context
// string. A failure in one source never aborts the other.
func (r *Retriever) RetrieveContext(ctx context.Context, query, agentID string, opts Options) (*Context, error) {
	source := opts.Source
	if source == "" {
		source = DetectSource(query)
	}
	topK := opts.TopK
	if topK <= 0 {
		topK = r.cfg.TopK
	}

	embedding, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	out := &Context{}

	if source == SourceProperties || source == SourceBoth {
		props, err := r.store.SearchProperties(ctx, embedding, agentID, topK, r.cfg.PropertyThreshold)
		if err != nil {
			slog.Error("property search failed, continuing without", "agentId", agentID, "error", err)
		} else {
			out.Properties = FilterProperties(props, opts.Filters)
			out.Sources = append(out.Sources, SourceProperties)
		}
	}

	if source == SourceDocuments || source == SourceBoth {
		docs, err := r.store.SearchDocuments(ctx, embedding, agentID, topK, r.cfg.DocumentThreshold)
		if err != nil {
			slog.Error("document search failed, continuing without", "agentId", agentID, "error", err)
		} else {
			out.Documents = docs
			out.Sources = append(out.Sources, SourceDocuments)
		}
	}

	out.CombinedContext = FormatContext(out.Documents, out.Properties)
	return out, nil
}

// AugmentPrompt appends the retrieved context and a fixed instruction block
// to the system prompt.
func (r *Retriever) AugmentPrompt(ctx context.Context, systemPrompt, query, agentID string, opts Options) (string, *Context, error) {
	rc, err := r.RetrieveContext(ctx, query, agentID, opts)
	if err != nil {
		return systemPrompt, nil, err
	}
	if rc.CombinedContext == "" {
		return systemPrompt, rc, nil
	}

	var b strings.Builder
	b.WriteString(systemPrompt)
	b.WriteString("\n\n")
	b.WriteString(rc.CombinedContext)
	b.WriteString("\n\nUse the retrieved context above when answering. ")
	b.WriteString("Prefer its facts over general knowledge, and say so plainly when it does not cover the question.")
	return b.String(), rc, nil
}

// propertyWords and documentWords drive source auto-detection (bilingual).
var propertyWords = []string{
	"buy", "rent", "lease", "price", "apartment", "villa", "bedroom", "compound",
	"شقة", "فيلا", "سعر", "ايجار", "إيجار", "شراء", "غرف", "كمبوند",
}

var documentWords = []string{
	"how", "what", "policy", "contract", "procedure", "paperwork", "guide", "faq",
	"كيف", "ما هي", "سياسة", "عقد", "اجراءات", "إجراءات", "مستندات",
}

// DetectSource picks a search source from keyword heuristics; ambiguous
// queries search both.
func DetectSource(query string) Source {
	q := strings.ToLower(query)
	prop := containsAny(q, propertyWords)
	doc := containsAny(q, documentWords)
	switch {
	case prop && !doc:
		return SourceProperties
	case doc && !prop:
		return SourceDocuments
	default:
		return SourceBoth
	}
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

// FilterProperties applies post-hoc metadata filters the vector store cannot
// express: price bounds, bedrooms, area range, amenity subset, location
// substrings.
func FilterProperties(matches []PropertyMatch, f intent.SearchFilters) []PropertyMatch {
	var out []PropertyMatch
	for _, m := range matches {
		p := m.Property
		if f.MinPrice != nil && p.BasePrice < *f.MinPrice {
			continue
		}
		if f.MaxPrice != nil && p.BasePrice > *f.MaxPrice {
			continue
		}
		if f.Bedrooms != nil && p.Bedrooms != 0 && p.Bedrooms < *f.Bedrooms {
			continue
		}
		if f.MinArea != nil && p.AreaSqm != 0 && p.AreaSqm < *f.MinArea {
			continue
		}
		if f.MaxArea != nil && p.AreaSqm != 0 && p.AreaSqm > *f.MaxArea {
			continue
		}
		if f.PropertyType != nil && p.PropertyType != "" &&
			!strings.EqualFold(p.PropertyType, *f.PropertyType) {
			continue
		}
		if !locationMatches(p, f) {
			continue
		}
		if !amenitiesSubset(p.Amenities, f.Amenities) {
			continue
		}
		out = append(out, m)
	}
	return out
}

func locationMatches(p PropertyDocument, f intent.SearchFilters) bool {
	want := ""
	switch {
	case f.District != nil:
		want = *f.District
	case f.City != nil:
		want = *f.City
	case f.Location != nil:
		want = *f.Location
	default:
		return true
	}
	have := strings.ToLower(p.City + " " + p.District)
	for _, part := range strings.FieldsFunc(strings.ToLower(want), func(r rune) bool { return r == ',' }) {
		if strings.Contains(have, strings.TrimSpace(part)) {
			return true
		}
	}
	return false
}

// amenitiesSubset requires every wanted amenity to appear on the property.
func amenitiesSubset(have, want []string) bool {
	if len(want) == 0 {
		return true
	}
	set := make(map[string]bool, len(have))
	for _, a := range have {
		set[strings.ToLower(strings.TrimSpace(a))] = true
	}
	for _, a := range want {
		if !set[strings.ToLower(strings.TrimSpace(a))] {
			return false
		}
	}
	return true
}

const maxDocumentContextChars = 1000

// FormatContext renders the combined context block: KNOWLEDGE BASE first,
// then AVAILABLE PROPERTIES.
func FormatContext(docs []DocumentMatch, props []PropertyMatch) string {
	var b strings.Builder

	if len(docs) > 0 {
		b.WriteString("=== KNOWLEDGE BASE ===\n")
		for i, d := range docs {
			fmt.Fprintf(&b, "%d. %s (%s)\n", i+1, d.Document.Title, d.Document.DocumentType)
			b.WriteString(documentExcerpt(d.Document))
			b.WriteString("\n")
		}
	}

	if len(props) > 0 {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("=== AVAILABLE PROPERTIES ===\n")
		for i, p := range props {
			fmt.Fprintf(&b, "%d. %s\n", i+1, FormatProperty(p.Property))
		}
	}

	return strings.TrimSpace(b.String())
}

// FormatProperty renders one property as a compact tabular line block.
func FormatProperty(p PropertyDocument) string {
	var parts []string
	parts = append(parts, p.Title)
	if p.PropertyType != "" {
		parts = append(parts, "Type: "+p.PropertyType)
	}
	loc := strings.TrimSpace(strings.TrimPrefix(p.City+", "+p.District, ", "))
	loc = strings.TrimSuffix(loc, ", ")
	if loc != "" && loc != "," {
		parts = append(parts, "Location: "+loc)
	}
	if p.BasePrice > 0 {
		parts = append(parts, "Price: "+FormatPriceBilingual(p.BasePrice))
	}
	if p.AreaSqm > 0 {
		parts = append(parts, fmt.Sprintf("Area: %.0f sqm", p.AreaSqm))
	}
	if p.Bedrooms > 0 {
		parts = append(parts, fmt.Sprintf("Bedrooms: %d", p.Bedrooms))
	}
	if p.Bathrooms > 0 {
		parts = append(parts, fmt.Sprintf("Bathrooms: %d", p.Bathrooms))
	}
	if d := FormatDeliveryDate(p.DeliveryDate); d != "" {
		parts = append(parts, "Delivery: "+d)
	}
	if len(p.PaymentPlans) > 0 {
		plan := p.PaymentPlans[0]
		parts = append(parts, fmt.Sprintf("Payment: %.0f%% down over %d years", plan.DownPaymentPercent, plan.Years))
	}
	if len(p.Amenities) > 0 {
		parts = append(parts, "Amenities: "+strings.Join(p.Amenities, ", "))
	}
	return strings.Join(parts, " | ")
}

// documentExcerpt returns the first few chunks bounded to roughly 1000 characters.
func documentExcerpt(d KnowledgeDocument) string {
	var b strings.Builder
	if d.Description != "" {
		b.WriteString(d.Description)
		b.WriteString("\n")
	}
	for i, chunk := range d.ContentChunks {
		if i >= 3 || b.Len() >= maxDocumentContextChars {
			break
		}
		b.WriteString(chunk)
		b.WriteString("\n")
	}
	text := b.String()
	runes := []rune(text)
	if len(runes) > maxDocumentContextChars {
		text = string(runes[:maxDocumentContextChars]) + "…"
	}
	return strings.TrimSpace(text)
}
