package handlers

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"slices"
	"strings"
	"time"

	"cityflow/config"
	"cityflow/services"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
)

const (
	liveWriteWait  = 10 * time.Second
	livePongWait   = 60 * time.Second
	livePingPeriod = livePongWait * 9 / 10
)

type riskEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// liveUpgrader admits the same browser origins as the REST API.
func liveUpgrader(cors config.CORSConfig) *websocket.Upgrader {
	var origins []string
	for _, o := range strings.Split(cors.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	anyOrigin := len(origins) == 0 || slices.Contains(origins, "*")

	return &websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return anyOrigin || origin == "" || slices.Contains(origins, origin)
		},
	}
}

// LiveWebSocket pushes every risk snapshot the aggregator publishes. A
// segment_id query parameter narrows the feed to one segment.
func LiveWebSocket(cache *services.CacheService, cors config.CORSConfig) gin.HandlerFunc {
	upgrader := liveUpgrader(cors)

	return func(c *gin.Context) {
		if !cache.Available() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "live feed unavailable"})
			return
		}
		segmentID := c.Query("segment_id")

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Printf("live feed upgrade failed: %v", err)
			return
		}
		defer conn.Close()

		ctx, cancel := context.WithCancel(c.Request.Context())
		defer cancel()

		sub := cache.Subscribe(ctx, services.ChannelRisk)
		defer sub.Close()

		go discardInbound(conn, cancel)
		streamRisk(ctx, conn, sub.Channel(), segmentID)
	}
}

// discardInbound reads and drops client frames so control frames get
// handled, then cancels the stream once the client is gone or stops
// answering pings.
func discardInbound(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	conn.SetReadLimit(4096)
	_ = conn.SetReadDeadline(time.Now().Add(livePongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(livePongWait))
	})
	for {
		if _, _, err := conn.NextReader(); err != nil {
			return
		}
	}
}

func streamRisk(ctx context.Context, conn *websocket.Conn, msgs <-chan *redis.Message, segmentID string) {
	ping := time.NewTicker(livePingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(liveWriteWait))
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(liveWriteWait)); err != nil {
				return
			}
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			if !forSegment(msg.Payload, segmentID) {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(liveWriteWait))
			if err := conn.WriteJSON(riskEvent{Type: "risk_update", Data: json.RawMessage(msg.Payload)}); err != nil {
				log.Printf("live feed write failed: %v", err)
				return
			}
		}
	}
}

// forSegment reports whether a published snapshot belongs to segmentID. An
// empty segmentID matches everything.
func forSegment(payload, segmentID string) bool {
	if segmentID == "" {
		return true
	}
	var head struct {
		SegmentID string `json:"segment_id"`
	}
	if err := json.Unmarshal([]byte(payload), &head); err != nil {
		return false
	}
	return head.SegmentID == segmentID
}
