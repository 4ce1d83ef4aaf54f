package whatsapp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/simsarhq/simsar/internal/bus"
)

func cloudFixture(t *testing.T) (*CloudGateway, *[]map[string]any) {
	t.Helper()
	var payloads []map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/12345/messages" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("auth header = %q", got)
		}
		var p map[string]any
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		payloads = append(payloads, p)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	g, err := NewCloudGateway(CloudConfig{Token: "tok", PhoneID: "12345", APIBase: srv.URL})
	if err != nil {
		t.Fatalf("NewCloudGateway: %v", err)
	}
	return g, &payloads
}

func TestCloudSendText(t *testing.T) {
	g, payloads := cloudFixture(t)

	err := g.Send(context.Background(), bus.OutboundMessage{
		To: "+2010", Type: bus.TypeText, Text: "hello",
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	p := (*payloads)[0]
	if p["type"] != "text" || p["to"] != "+2010" {
		t.Errorf("payload = %v", p)
	}
	body := p["text"].(map[string]any)["body"]
	if body != "hello" {
		t.Errorf("body = %v", body)
	}
}

func TestCloudSendButtons(t *testing.T) {
	g, payloads := cloudFixture(t)

	err := g.Send(context.Background(), bus.OutboundMessage{
		To:   "+2010",
		Text: "pick one",
		Buttons: []bus.Button{
			{ID: bus.ButtonScheduleViewing, Title: "Schedule"},
			{ID: bus.ButtonTalkToAgent, Title: "Agent"},
		},
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	p := (*payloads)[0]
	if p["type"] != "interactive" {
		t.Fatalf("type = %v", p["type"])
	}
	interactive := p["interactive"].(map[string]any)
	buttons := interactive["action"].(map[string]any)["buttons"].([]any)
	if len(buttons) != 2 {
		t.Errorf("buttons = %v", buttons)
	}
}

func TestCloudSendLocation(t *testing.T) {
	g, payloads := cloudFixture(t)

	err := g.Send(context.Background(), bus.OutboundMessage{
		To:       "+2010",
		Location: &bus.LocationRef{Latitude: 30.05, Longitude: 31.23, Name: "Compound"},
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	p := (*payloads)[0]
	if p["type"] != "location" {
		t.Fatalf("type = %v", p["type"])
	}
	loc := p["location"].(map[string]any)
	if loc["latitude"].(float64) != 30.05 {
		t.Errorf("latitude = %v", loc["latitude"])
	}
}

func TestCloudCardsFlattenedIntoText(t *testing.T) {
	g, payloads := cloudFixture(t)

	err := g.Send(context.Background(), bus.OutboundMessage{
		To:   "+2010",
		Text: "found these",
		Cards: []bus.PropertyCard{
			{PropertyID: "p1", Title: "Garden Apartment", Price: "3,000,000 EGP (٣،٠٠٠،٠٠٠ جنيه)", City: "Cairo", Bedrooms: 3},
		},
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	body := (*payloads)[0]["text"].(map[string]any)["body"].(string)
	if !strings.Contains(body, "Garden Apartment") || !strings.Contains(body, "٣،٠٠٠،٠٠٠") {
		t.Errorf("cards missing from body:\n%s", body)
	}
}

func TestCloudErrorStatusSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"bad token"}}`, http.StatusUnauthorized)
	}))
	t.Cleanup(srv.Close)

	g, err := NewCloudGateway(CloudConfig{Token: "tok", PhoneID: "12345", APIBase: srv.URL})
	if err != nil {
		t.Fatalf("NewCloudGateway: %v", err)
	}
	err = g.Send(context.Background(), bus.OutboundMessage{To: "+2010", Text: "x"})
	if err == nil || !strings.Contains(err.Error(), "401") {
		t.Fatalf("err = %v, want status 401 surfaced", err)
	}
}
