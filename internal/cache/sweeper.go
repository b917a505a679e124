package cache

import (
	"log/slog"
	"time"
)

// DefaultSweepInterval is how often expired entries are removed when TTLs are enabled.
const DefaultSweepInterval = 5 * time.Minute

// Sweepable is implemented by caches that can drop expired entries.
type Sweepable interface {
	DeleteExpired() int
}

// RunSweeper removes expired entries from every cache at the given interval until
// stop is closed. It blocks; run it in its own goroutine.
func RunSweeper(stop <-chan struct{}, interval time.Duration, caches ...Sweepable) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			removed := 0
			for _, c := range caches {
				removed += c.DeleteExpired()
			}
			if removed > 0 {
				slog.Debug("expired series swept", "removed", removed)
			}
		case <-stop:
			return
		}
	}
}
