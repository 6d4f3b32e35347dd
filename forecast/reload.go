package forecast

import (
	"context"
	"log"
	"os"
	"time"

	"cityflow/metrics"
)

// Watch keeps the installed model in step with the artifact at path. It
// reloads when the file's modification time changes, checked every
// interval, and unconditionally whenever force fires. Either may be
// disabled with a zero interval or a nil channel. A failed load leaves the
// current model serving. Watch returns when ctx is done.
func (f *Forecaster) Watch(ctx context.Context, path string, interval time.Duration, force <-chan os.Signal) {
	var tick <-chan time.Time
	if interval > 0 {
		t := time.NewTicker(interval)
		defer t.Stop()
		tick = t.C
	}

	last := modTime(path)
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
			if mod := modTime(path); !mod.IsZero() && !mod.Equal(last) {
				last = mod
				f.reload(path)
			}
		case <-force:
			last = modTime(path)
			f.reload(path)
		}
	}
}

func (f *Forecaster) reload(path string) {
	if err := f.Load(path); err != nil {
		metrics.ModelReloads.WithLabelValues("failed").Inc()
		log.Printf("density model reload failed, keeping current model: %v", err)
		return
	}
	metrics.ModelReloads.WithLabelValues("ok").Inc()
	log.Printf("density model reloaded from %s", path)
}

func modTime(path string) time.Time {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}
