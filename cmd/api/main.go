package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cityflow/config"
	"cityflow/forecast"
	"cityflow/handlers"
	"cityflow/metrics"
	"cityflow/scenario"
	"cityflow/segment"
	"cityflow/services"
	"cityflow/store"
	"cityflow/topology"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

type stores struct {
	snapshots store.SnapshotStore
	forecasts store.ForecastStore
	scenarios store.ScenarioStore
	db        *gorm.DB
	close     func()
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	shutdownTracing, err := metrics.SetupTracing("cityflow-api", cfg.Tracing.Exporter, cfg.Tracing.SampleRatio)
	if err != nil {
		log.Fatalf("tracing init failed: %v", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			log.Printf("tracing shutdown: %v", err)
		}
	}()

	st, err := openStores(ctx, cfg)
	if err != nil {
		log.Fatalf("store init failed: %v", err)
	}
	defer st.close()

	known, err := st.snapshots.SegmentIDs(ctx)
	if err != nil {
		log.Fatalf("list segments failed: %v", err)
	}
	holder := segment.NewHolder(segment.LinearChain(known))
	listKnown := topology.KnownSegments(st.snapshots.SegmentIDs)
	if st.db != nil {
		listKnown = topology.Union(listKnown, topology.NewPostgresSource(st.db).RoadIDs)
	}
	refresher := topology.NewRefresher(holder, listKnown, cfg.Topology.Refresh, topologySources(cfg, st.db)...)
	go refresher.Run(ctx)

	fc := forecast.New(cfg.Engine.MaxInferenceRows, cfg.Engine.Location())
	if err := fc.Load(cfg.Engine.ModelPath); err != nil {
		log.Printf("density model unavailable, scenarios use formulas only: %v", err)
	}
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go fc.Watch(ctx, cfg.Engine.ModelPath, cfg.Engine.ModelReload, hup)

	profiles, err := scenario.LoadProfiles(cfg.Engine.ProfilesPath)
	if err != nil {
		log.Fatalf("impact profiles: %v", err)
	}

	sim := scenario.New(scenario.Config{
		Graph:     holder,
		History:   st.snapshots,
		Runs:      st.scenarios,
		Predictor: fc,
		Profiles:  profiles,
		Lookback:  cfg.Engine.HistoryWindow,
		Location:  cfg.Engine.Location(),
	})

	cache, err := services.NewCacheService(cfg.Redis)
	if err != nil {
		log.Printf("redis unavailable, running without cache and live feed: %v", err)
	}
	defer cache.Close()

	svc := services.NewRiskService(st.snapshots, st.forecasts, st.scenarios, sim, cache)
	router := handlers.NewRouter(svc, cache, cfg.CORS)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Printf("api listening on %s store=%s topology=%s model=%v",
			server.Addr, cfg.Engine.StoreBackend, cfg.Topology.Source, fc.Available())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("api server failed: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("api shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("api shutdown: %v", err)
	}
}

func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	if cfg.Engine.StoreBackend == "memory" {
		mem := store.NewMemory()
		log.Printf("using in-memory store, data is lost on exit")
		return &stores{snapshots: mem, forecasts: mem, scenarios: mem, close: func() {}}, nil
	}

	pool, err := store.Connect(ctx, cfg.Database.GetDSN())
	if err != nil {
		return nil, err
	}
	pg := store.NewPostgres(pool)
	if err := pg.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	db, err := gorm.Open(postgres.Open(cfg.Database.GetDSN()), &gorm.Config{})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("gorm open: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("gorm sql handle: %w", err)
	}
	scenarios := store.NewGormScenarios(db)
	if err := scenarios.AutoMigrate(); err != nil {
		pool.Close()
		_ = sqlDB.Close()
		return nil, err
	}

	return &stores{
		snapshots: pg,
		forecasts: pg,
		scenarios: scenarios,
		db:        db,
		close: func() {
			pool.Close()
			_ = sqlDB.Close()
		},
	}, nil
}

// topologySources lists adjacency sources in preference order. Build falls
// back to a linear chain when none of them yields a usable graph.
func topologySources(cfg *config.Config, db *gorm.DB) []topology.Source {
	switch cfg.Topology.Source {
	case "postgres":
		if db == nil {
			log.Printf("topology source postgres needs STORE_BACKEND=postgres, using linear fallback")
			return nil
		}
		return []topology.Source{topology.NewPostgresSource(db)}
	case "overpass":
		if cfg.Topology.BBox == "" {
			log.Printf("OVERPASS_BBOX not set, using linear fallback")
			return nil
		}
		src := topology.NewOverpassSource(cfg.Topology.OverpassURL, cfg.Topology.BBox, 60*time.Second)
		if db != nil {
			return []topology.Source{topology.NewPostgresSource(db), src}
		}
		return []topology.Source{src}
	}
	return nil
}
