package rag

import "time"

// PropertyDocument is a listed property with its retrieval embedding.
type PropertyDocument struct {
	ID      string `json:"id"`
	AgentID string `json:"agentId"`
	Title   string `json:"title"`

	// Location
	City      string  `json:"city,omitempty"`
	District  string  `json:"district,omitempty"`
	Latitude  float64 `json:"latitude,omitempty"`
	Longitude float64 `json:"longitude,omitempty"`

	// Pricing
	BasePrice     float64 `json:"basePrice,omitempty"`
	PricePerMeter float64 `json:"pricePerMeter,omitempty"`
	Currency      string  `json:"currency,omitempty"` // default EGP

	// Specs
	AreaSqm   float64 `json:"areaSqm,omitempty"`
	Bedrooms  int     `json:"bedrooms,omitempty"`
	Bathrooms int     `json:"bathrooms,omitempty"`
	Floors    int     `json:"floors,omitempty"`

	PropertyType string        `json:"propertyType,omitempty"` // apartment, villa, ...
	Amenities    []string      `json:"amenities,omitempty"`
	PaymentPlans []PaymentPlan `json:"paymentPlans,omitempty"`
	DeliveryDate *time.Time    `json:"deliveryDate,omitempty"`
	Description  string        `json:"description,omitempty"`
	ImageURLs    []string      `json:"imageUrls,omitempty"`

	// EmbeddingText is the canonical text the embedding was computed from;
	// Embedding is unit-norm, fixed dimension.
	EmbeddingText string    `json:"embeddingText,omitempty"`
	Embedding     []float32 `json:"-"`
}

// PaymentPlan is one installment offer attached to a property.
type PaymentPlan struct {
	Name               string  `json:"name,omitempty"`
	DownPaymentPercent float64 `json:"downPaymentPercent,omitempty"`
	Years              int     `json:"years,omitempty"`
	MonthlyPayment     float64 `json:"monthlyPayment,omitempty"`
}

// DocumentType classifies knowledge-base documents.
type DocumentType string

const (
	DocBrochure  DocumentType = "brochure"
	DocFloorPlan DocumentType = "floor_plan"
	DocContract  DocumentType = "contract"
	DocPolicy    DocumentType = "policy"
	DocFAQ       DocumentType = "faq"
	DocGuide     DocumentType = "guide"
)

// KnowledgeDocument is an agency document retrievable alongside properties.
type KnowledgeDocument struct {
	ID            string       `json:"id"`
	AgentID       string       `json:"agentId"`
	DocumentType  DocumentType `json:"documentType"`
	Category      string       `json:"category,omitempty"`
	Title         string       `json:"title"`
	Description   string       `json:"description,omitempty"`
	ContentChunks []string     `json:"contentChunks,omitempty"`
	Embedding     []float32    `json:"-"`
}

// PropertyMatch pairs a retrieved property with its cosine similarity.
type PropertyMatch struct {
	Property   PropertyDocument
	Similarity float32
}

// DocumentMatch pairs a retrieved document with its cosine similarity.
type DocumentMatch struct {
	Document   KnowledgeDocument
	Similarity float32
}
