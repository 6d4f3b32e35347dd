package main

import (
	"context"
	"testing"
	"time"

	"cityflow/services"
	"cityflow/store"
)

func TestParseCount(t *testing.T) {
	now := time.Date(2025, 6, 15, 14, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		raw     string
		wantErr bool
		wantTS  time.Time
	}{
		{"valid", `{"ts":"2025-06-15T14:30:00Z","signal_id":"NSB_001","segment_id":"S1","vehicle_count":42}`, false, now.Add(30 * time.Minute)},
		{"no timestamp uses now", `{"signal_id":"NSB_001","vehicle_count":3}`, false, now},
		{"bad timestamp uses now", `{"ts":"yesterday","signal_id":"NSB_001","vehicle_count":3}`, false, now},
		{"missing signal", `{"segment_id":"S1","vehicle_count":3}`, true, time.Time{}},
		{"missing count", `{"signal_id":"NSB_001"}`, true, time.Time{}},
		{"negative count", `{"signal_id":"NSB_001","vehicle_count":-1}`, true, time.Time{}},
		{"invalid json", `{not valid json}`, true, time.Time{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseCount([]byte(tt.raw), now)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseCount() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && !got.TS.Equal(tt.wantTS) {
				t.Errorf("TS = %v, want %v", got.TS, tt.wantTS)
			}
		})
	}
}

func TestCollectorHandle(t *testing.T) {
	mem := store.NewMemory()
	c := &collector{counts: mem, cache: services.NewCacheServiceWithClient(nil)}
	ctx := context.Background()

	c.handle(ctx, []byte(`{"ts":"2025-06-15T14:30:00Z","signal_id":"NSB_001","segment_id":"S1","vehicle_count":42}`))
	c.handle(ctx, []byte(`{"signal_id":""}`))

	counts, err := mem.Counts(ctx, time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if len(counts) != 1 || counts[0].SignalID != "NSB_001" || counts[0].VehicleCount != 42 {
		t.Errorf("stored counts = %+v", counts)
	}
}
