package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"cityflow/config"
	"cityflow/metrics"
	"cityflow/models"
	"cityflow/services"
	"cityflow/store"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// CountPayload is one message of the raw traffic counter feed.
type CountPayload struct {
	TS           string   `json:"ts"`
	SignalID     string   `json:"signal_id"`
	SegmentID    string   `json:"segment_id"`
	VehicleCount *float64 `json:"vehicle_count"`
}

type collector struct {
	counts store.CountStore
	cache  *services.CacheService
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	pool, err := store.Connect(ctx, cfg.Database.GetDSN())
	if err != nil {
		log.Fatalf("db init failed: %v", err)
	}
	defer pool.Close()

	cache, err := services.NewCacheService(cfg.Redis)
	if err != nil {
		log.Printf("redis unavailable, live republish disabled: %v", err)
	}
	defer cache.Close()

	c := &collector{counts: store.NewPostgres(pool), cache: cache}

	go metrics.Serve(cfg.MetricsAddr)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.MQTT.Broker)
	opts.SetClientID("collector-" + time.Now().Format("20060102150405"))
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetDefaultPublishHandler(func(client mqtt.Client, message mqtt.Message) {
		c.handle(ctx, message.Payload())
	})
	opts.OnConnect = func(client mqtt.Client) {
		token := client.Subscribe(cfg.MQTT.Topic, 0, nil)
		token.Wait()
		if token.Error() != nil {
			log.Printf("mqtt subscribe error: %v", token.Error())
			return
		}
		log.Printf("collector subscribed to topic=%s", cfg.MQTT.Topic)
	}
	opts.OnConnectionLost = func(client mqtt.Client, err error) {
		log.Printf("mqtt connection lost: %v", err)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	token.Wait()
	if token.Error() != nil {
		log.Fatalf("mqtt connection failed: %v", token.Error())
	}

	log.Printf("collector running, mqtt=%s metrics=%s redis=%v", cfg.MQTT.Broker, cfg.MetricsAddr, cache.Available())

	<-ctx.Done()
	log.Printf("collector shutting down")
	client.Disconnect(250)
}

// handle validates one payload, stores it and republishes it on the live
// channel.
func (c *collector) handle(ctx context.Context, raw []byte) {
	metrics.CountsReceived.Inc()

	count, err := parseCount(raw, time.Now())
	if err != nil {
		metrics.CountsFailed.Inc()
		log.Printf("invalid payload: %v", err)
		return
	}

	if err := c.counts.AppendCount(ctx, count); err != nil {
		metrics.CountsFailed.Inc()
		log.Printf("db insert failed signal=%s: %v", count.SignalID, err)
		return
	}
	metrics.CountsStored.Inc()

	if err := c.cache.PublishRaw(ctx, services.ChannelCounts, raw); err != nil {
		log.Printf("live publish failed: %v", err)
	}
}

func parseCount(raw []byte, now time.Time) (models.TrafficCount, error) {
	var p CountPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return models.TrafficCount{}, err
	}

	p.SignalID = strings.TrimSpace(p.SignalID)
	if p.SignalID == "" {
		return models.TrafficCount{}, errors.New("missing signal_id")
	}
	if p.VehicleCount == nil {
		return models.TrafficCount{}, errors.New("missing vehicle_count")
	}
	if *p.VehicleCount < 0 {
		return models.TrafficCount{}, fmt.Errorf("negative vehicle_count %v", *p.VehicleCount)
	}

	ts := now.UTC()
	if p.TS != "" {
		if parsed, err := time.Parse(time.RFC3339, p.TS); err == nil {
			ts = parsed.UTC()
		}
	}

	return models.TrafficCount{
		TS:           ts,
		SignalID:     p.SignalID,
		SegmentID:    strings.TrimSpace(p.SegmentID),
		VehicleCount: *p.VehicleCount,
	}, nil
}
