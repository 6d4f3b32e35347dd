package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"cityflow/config"

	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
)

func TestForSegment(t *testing.T) {
	tests := []struct {
		name      string
		payload   string
		segmentID string
		want      bool
	}{
		{"no filter", `{"segment_id":"S1"}`, "", true},
		{"match", `{"segment_id":"S1","risk_score":0.4}`, "S1", true},
		{"other segment", `{"segment_id":"S2"}`, "S1", false},
		{"garbage", `not json`, "S1", false},
		{"garbage without filter", `not json`, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := forSegment(tt.payload, tt.segmentID); got != tt.want {
				t.Errorf("forSegment(%q, %q) = %v, want %v", tt.payload, tt.segmentID, got, tt.want)
			}
		})
	}
}

func TestLiveUpgraderOrigins(t *testing.T) {
	tests := []struct {
		allowed, origin string
		want            bool
	}{
		{"*", "https://evil.example", true},
		{"https://ops.city.gov, https://map.city.gov", "https://map.city.gov", true},
		{"https://ops.city.gov", "https://evil.example", false},
		{"https://ops.city.gov", "", true},
	}
	for _, tt := range tests {
		up := liveUpgrader(config.CORSConfig{AllowedOrigins: tt.allowed})
		req := httptest.NewRequest(http.MethodGet, "/api/v1/live", nil)
		if tt.origin != "" {
			req.Header.Set("Origin", tt.origin)
		}
		if got := up.CheckOrigin(req); got != tt.want {
			t.Errorf("allowed=%q origin=%q: CheckOrigin = %v, want %v", tt.allowed, tt.origin, got, tt.want)
		}
	}
}

func TestStreamRiskFiltersBySegment(t *testing.T) {
	msgs := make(chan *redis.Message, 3)
	msgs <- &redis.Message{Channel: "risk", Payload: `{"segment_id":"S1","risk_score":0.9}`}
	msgs <- &redis.Message{Channel: "risk", Payload: `{"segment_id":"S2","risk_score":0.3}`}
	msgs <- &redis.Message{Channel: "risk", Payload: `{"segment_id":"S2","risk_score":0.5}`}

	up := liveUpgrader(config.CORSConfig{AllowedOrigins: "*"})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()
		go discardInbound(conn, cancel)
		streamRisk(ctx, conn, msgs, "S2")
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("Dial() error: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	for _, want := range []float64{0.3, 0.5} {
		var ev struct {
			Type string `json:"type"`
			Data struct {
				SegmentID string  `json:"segment_id"`
				RiskScore float64 `json:"risk_score"`
			} `json:"data"`
		}
		_, raw, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("ReadMessage() error: %v", err)
		}
		if err := json.Unmarshal(raw, &ev); err != nil {
			t.Fatalf("decode %s: %v", raw, err)
		}
		if ev.Type != "risk_update" || ev.Data.SegmentID != "S2" || ev.Data.RiskScore != want {
			t.Errorf("event = %+v, want S2 risk_update %.1f", ev, want)
		}
	}

	close(msgs)
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("stream stayed open after the subscription closed")
	}
}
