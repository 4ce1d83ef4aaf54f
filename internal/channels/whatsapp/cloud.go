// Package whatsapp holds the two gateway implementations: the Meta cloud
// API over HTTP and the WebSocket bridge.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/simsarhq/simsar/internal/bus"
)

// CloudConfig configures the Meta cloud API gateway.
type CloudConfig struct {
	Token   string
	PhoneID string
	APIBase string        // default https://graph.facebook.com/v19.0
	Timeout time.Duration // per-request, default 30s
}

// CloudGateway sends through the Meta graph API.
type CloudGateway struct {
	cfg  CloudConfig
	http *http.Client
}

func NewCloudGateway(cfg CloudConfig) (*CloudGateway, error) {
	if cfg.Token == "" || cfg.PhoneID == "" {
		return nil, fmt.Errorf("cloud gateway requires token and phone id")
	}
	if cfg.APIBase == "" {
		cfg.APIBase = "https://graph.facebook.com/v19.0"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &CloudGateway{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// Send maps the outbound message onto the cloud API payload shapes: plain
// text, interactive button replies, or a location. Property cards ride along
// as a formatted text block since the cloud API has no native card type.
func (g *CloudGateway) Send(ctx context.Context, msg bus.OutboundMessage) error {
	payload := g.buildPayload(msg)
	return g.post(ctx, payload)
}

func (g *CloudGateway) buildPayload(msg bus.OutboundMessage) map[string]any {
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                msg.To,
	}

	text := msg.Text
	if len(msg.Cards) > 0 {
		text = appendCards(text, msg.Cards)
	}

	switch {
	case msg.Location != nil:
		payload["type"] = "location"
		payload["location"] = map[string]any{
			"latitude":  msg.Location.Latitude,
			"longitude": msg.Location.Longitude,
			"name":      msg.Location.Name,
			"address":   msg.Location.Address,
		}
	case len(msg.Buttons) > 0:
		buttons := make([]map[string]any, 0, len(msg.Buttons))
		for _, b := range msg.Buttons {
			buttons = append(buttons, map[string]any{
				"type":  "reply",
				"reply": map[string]string{"id": b.ID, "title": b.Title},
			})
		}
		payload["type"] = "interactive"
		payload["interactive"] = map[string]any{
			"type":   "button",
			"body":   map[string]string{"text": text},
			"action": map[string]any{"buttons": buttons},
		}
	default:
		payload["type"] = "text"
		payload["text"] = map[string]any{"body": text, "preview_url": false}
	}
	return payload
}

func (g *CloudGateway) post(ctx context.Context, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode cloud payload: %w", err)
	}

	url := fmt.Sprintf("%s/%s/messages", strings.TrimSuffix(g.cfg.APIBase, "/"), g.cfg.PhoneID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build cloud request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+g.cfg.Token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.http.Do(req)
	if err != nil {
		return fmt.Errorf("cloud api request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("cloud api status %d: %s", resp.StatusCode, detail)
	}
	return nil
}

// appendCards renders property cards under the text body.
func appendCards(text string, cards []bus.PropertyCard) string {
	var b strings.Builder
	b.WriteString(text)
	for _, c := range cards {
		b.WriteString("\n\n")
		b.WriteString(c.Title)
		b.WriteString("\n")
		b.WriteString(c.Price)
		loc := strings.TrimSuffix(strings.TrimSpace(c.District+", "+c.City), ",")
		if loc != "" && loc != "," {
			b.WriteString("\n")
			b.WriteString(loc)
		}
		if c.Bedrooms > 0 || c.AreaSqm > 0 {
			b.WriteString("\n")
			if c.Bedrooms > 0 {
				fmt.Fprintf(&b, "%d BR", c.Bedrooms)
			}
			if c.AreaSqm > 0 {
				if c.Bedrooms > 0 {
					b.WriteString(" / ")
				}
				fmt.Fprintf(&b, "%.0f sqm", c.AreaSqm)
			}
		}
	}
	return b.String()
}
