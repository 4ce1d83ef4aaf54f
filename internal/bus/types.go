package bus

import "time"

// MessageType discriminates the content union of a ParsedMessage.
type MessageType string

const (
	TypeText        MessageType = "text"
	TypeImage       MessageType = "image"
	TypeVideo       MessageType = "video"
	TypeDocument    MessageType = "document"
	TypeAudio       MessageType = "audio"
	TypeLocation    MessageType = "location"
	TypeInteractive MessageType = "interactive"
)

// IsMedia reports whether the type carries a media descriptor.
func (t MessageType) IsMedia() bool {
	switch t {
	case TypeImage, TypeVideo, TypeDocument, TypeAudio:
		return true
	}
	return false
}

// ParsedMessage is the normalized record the gateway adapter must deliver.
// Exactly one of Text, Media, Location is set, according to Type.
type ParsedMessage struct {
	MessageID     string       `json:"messageId"`
	From          string       `json:"from"` // E.164 phone
	FromName      string       `json:"fromName,omitempty"`
	AgentID       string       `json:"agentId"`
	Timestamp     time.Time    `json:"timestamp"`
	Type          MessageType  `json:"type"`
	Text          string       `json:"text,omitempty"`
	Media         *MediaRef    `json:"media,omitempty"`
	Location      *LocationRef `json:"location,omitempty"`
	ButtonPayload string       `json:"buttonPayload,omitempty"`
}

// MediaRef describes inbound media without carrying the bytes.
type MediaRef struct {
	MediaID  string `json:"mediaId"`
	MimeType string `json:"mimeType,omitempty"`
	Caption  string `json:"caption,omitempty"`
	Filename string `json:"filename,omitempty"`
}

// LocationRef is an inbound or outbound location pin.
type LocationRef struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Name      string  `json:"name,omitempty"`
	Address   string  `json:"address,omitempty"`
}

// OutboundMessage is a structured send handed to the gateway adapter.
type OutboundMessage struct {
	To       string         `json:"to"`
	Type     MessageType    `json:"type"`
	Text     string         `json:"text,omitempty"`
	Cards    []PropertyCard `json:"cards,omitempty"`
	Buttons  []Button       `json:"buttons,omitempty"`
	Location *LocationRef   `json:"location,omitempty"`
}

// PropertyCard is a rich property attachment (at most three per message).
type PropertyCard struct {
	PropertyID string   `json:"propertyId"`
	Title      string   `json:"title"`
	Price      string   `json:"price"` // already formatted, bilingual
	City       string   `json:"city,omitempty"`
	District   string   `json:"district,omitempty"`
	Bedrooms   int      `json:"bedrooms,omitempty"`
	Bathrooms  int      `json:"bathrooms,omitempty"`
	AreaSqm    float64  `json:"areaSqm,omitempty"`
	ImageURLs  []string `json:"imageUrls,omitempty"`
}

// Button is a call-to-action reply button. WhatsApp caps these at three.
type Button struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// Well-known button payload IDs, round-tripped through interactive replies.
const (
	ButtonScheduleViewing  = "schedule_viewing"
	ButtonTalkToAgent      = "talk_to_agent"
	ButtonCalculatePayment = "calculate_payment"
	ButtonViewMap          = "view_map"
)
