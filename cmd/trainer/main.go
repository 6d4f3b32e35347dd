package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cityflow/config"
	"cityflow/forecast"
	"cityflow/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	p := forecast.DefaultParams()
	out := flag.String("out", cfg.Engine.ModelPath, "path to write the model artifact")
	history := flag.Duration("history", 30*24*time.Hour, "how much count history to train on")
	flag.IntVar(&p.NumTrees, "trees", p.NumTrees, "maximum number of boosting rounds")
	flag.Float64Var(&p.LearningRate, "learning_rate", p.LearningRate, "shrinkage per tree")
	flag.IntVar(&p.MaxDepth, "max_depth", p.MaxDepth, "maximum tree depth")
	flag.IntVar(&p.MinLeaf, "min_leaf", p.MinLeaf, "minimum rows per leaf")
	flag.IntVar(&p.EarlyStoppingRounds, "early_stopping", p.EarlyStoppingRounds, "rounds without validation gain before stopping (0 disables)")
	flag.Float64Var(&p.TrainSplit, "train_split", p.TrainSplit, "leading fraction of each series used for training")
	flag.Parse()

	pool, err := store.Connect(ctx, cfg.Database.GetDSN())
	if err != nil {
		log.Fatalf("db init failed: %v", err)
	}
	defer pool.Close()

	if err := train(ctx, store.NewPostgres(pool), p, *history, *out, cfg.Engine.Location()); err != nil {
		log.Fatalf("training failed: %v", err)
	}
}

func train(ctx context.Context, counts store.CountStore, p forecast.Params, history time.Duration, out string, loc *time.Location) error {
	rows, err := counts.Counts(ctx, time.Now().Add(-history))
	if err != nil {
		return fmt.Errorf("read counts: %w", err)
	}
	series := forecast.BuildSeries(rows)
	log.Printf("training on %d counts in %d series, history=%s", len(rows), len(series), history)

	model, err := forecast.Train(series, p, loc)
	if err != nil {
		return err
	}
	if err := model.Save(out); err != nil {
		return err
	}

	r := model.Report
	log.Printf("model written to %s: trees=%d train_rows=%d valid_rows=%d valid_mae=%.4f baseline_mae=%.4f",
		out, r.Trees, r.TrainRows, r.ValidRows, r.ValidMAE, r.BaselineMAE)
	return nil
}
