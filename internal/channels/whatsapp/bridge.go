package whatsapp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/simsarhq/simsar/internal/bus"
	"github.com/simsarhq/simsar/internal/channels"
)

// BridgeGateway talks to a whatsapp-web.js style bridge over WebSocket. The
// bridge owns the WhatsApp protocol; this side exchanges JSON frames.
type BridgeGateway struct {
	url     string
	agentID string
	handler channels.InboundHandler

	mu     sync.Mutex
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
}

func NewBridgeGateway(url, agentID string, handler channels.InboundHandler) (*BridgeGateway, error) {
	if url == "" {
		return nil, fmt.Errorf("bridge gateway requires a ws url")
	}
	return &BridgeGateway{url: url, agentID: agentID, handler: handler}, nil
}

// Start connects and begins the listen loop. A failed initial dial is not
// fatal; the loop keeps reconnecting with backoff.
func (g *BridgeGateway) Start(ctx context.Context) error {
	g.ctx, g.cancel = context.WithCancel(ctx)

	if err := g.connect(); err != nil {
		slog.Warn("initial bridge connection failed, will retry", "error", err)
	}
	go g.listenLoop()
	return nil
}

func (g *BridgeGateway) Stop(_ context.Context) error {
	if g.cancel != nil {
		g.cancel()
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.conn != nil {
		_ = g.conn.Close()
		g.conn = nil
	}
	return nil
}

// Send writes one outbound frame. Cards and buttons are flattened into the
// content since the bridge only carries text.
func (g *BridgeGateway) Send(_ context.Context, msg bus.OutboundMessage) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.conn == nil {
		return fmt.Errorf("bridge not connected")
	}

	content := msg.Text
	if len(msg.Cards) > 0 {
		content = appendCards(content, msg.Cards)
	}
	if len(msg.Buttons) > 0 {
		var opts []string
		for _, b := range msg.Buttons {
			opts = append(opts, "- "+b.Title)
		}
		content += "\n\n" + strings.Join(opts, "\n")
	}
	if msg.Location != nil {
		content += fmt.Sprintf("\n\nhttps://maps.google.com/?q=%f,%f",
			msg.Location.Latitude, msg.Location.Longitude)
	}

	data, err := json.Marshal(map[string]any{
		"type":    "message",
		"to":      msg.To,
		"content": content,
	})
	if err != nil {
		return fmt.Errorf("marshal bridge frame: %w", err)
	}
	if err := g.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("bridge write: %w", err)
	}
	return nil
}

func (g *BridgeGateway) connect() error {
	dialer := websocket.DefaultDialer
	dialer.HandshakeTimeout = 10 * time.Second

	conn, _, err := dialer.Dial(g.url, nil)
	if err != nil {
		return fmt.Errorf("dial bridge %s: %w", g.url, err)
	}

	g.mu.Lock()
	g.conn = conn
	g.mu.Unlock()

	slog.Info("whatsapp bridge connected", "url", g.url)
	return nil
}

// listenLoop reads inbound frames with automatic reconnection.
func (g *BridgeGateway) listenLoop() {
	backoff := time.Second

	for {
		select {
		case <-g.ctx.Done():
			return
		default:
		}

		g.mu.Lock()
		conn := g.conn
		g.mu.Unlock()

		if conn == nil {
			slog.Info("attempting bridge reconnect", "backoff", backoff)
			select {
			case <-g.ctx.Done():
				return
			case <-time.After(backoff):
			}
			if err := g.connect(); err != nil {
				slog.Warn("bridge reconnect failed", "error", err)
				backoff = min(backoff*2, 30*time.Second)
				continue
			}
			backoff = time.Second
			continue
		}

		_, frame, err := conn.ReadMessage()
		if err != nil {
			slog.Warn("bridge read error, will reconnect", "error", err)
			g.mu.Lock()
			if g.conn != nil {
				_ = g.conn.Close()
				g.conn = nil
			}
			g.mu.Unlock()
			continue
		}

		g.handleFrame(frame)
	}
}

// bridgeFrame is the inbound JSON shape from the bridge.
type bridgeFrame struct {
	Type     string  `json:"type"`
	ID       string  `json:"id"`
	From     string  `json:"from"`
	FromName string  `json:"from_name"`
	Content  string  `json:"content"`
	MsgType  string  `json:"msg_type"` // text, image, location, ...
	MediaID  string  `json:"media_id"`
	MimeType string  `json:"mime_type"`
	Lat      float64 `json:"lat"`
	Lon      float64 `json:"lon"`
	Button   string  `json:"button"`
}

func (g *BridgeGateway) handleFrame(data []byte) {
	var f bridgeFrame
	if err := json.Unmarshal(data, &f); err != nil {
		slog.Warn("invalid bridge frame", "error", err)
		return
	}
	if f.Type != "message" || f.From == "" {
		return
	}
	if strings.HasSuffix(f.From, "@g.us") {
		return // group chats are out of scope
	}

	msg := bus.ParsedMessage{
		MessageID: f.ID,
		From:      strings.TrimSuffix(f.From, "@c.us"),
		FromName:  f.FromName,
		AgentID:   g.agentID,
		Timestamp: time.Now().UTC(),
	}

	switch f.MsgType {
	case "", "text":
		msg.Type = bus.TypeText
		msg.Text = f.Content
	case "image", "video", "audio", "document":
		msg.Type = bus.MessageType(f.MsgType)
		msg.Media = &bus.MediaRef{MediaID: f.MediaID, MimeType: f.MimeType, Caption: f.Content}
	case "location":
		msg.Type = bus.TypeLocation
		msg.Location = &bus.LocationRef{Latitude: f.Lat, Longitude: f.Lon}
	case "interactive":
		msg.Type = bus.TypeInteractive
		msg.ButtonPayload = f.Button
		msg.Text = f.Content
	default:
		slog.Debug("unhandled bridge message type", "msgType", f.MsgType)
		return
	}

	if g.handler != nil {
		g.handler(g.ctx, msg)
	}
}
