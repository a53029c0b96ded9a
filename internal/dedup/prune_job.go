package dedup

import (
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultTTL is the default retention window for processed records,
// overridable via PROCESSED_LOG_TTL_DAYS in settings.
const DefaultTTL = 90 * 24 * time.Hour

// SchedulePruning registers a daily pruning job on sched that removes
// processed records older than ttl. Returns the cron entry ID so the
// caller can unregister it on shutdown.
func SchedulePruning(sched *cron.Cron, l *Log, ttl time.Duration) (cron.EntryID, error) {
	return sched.AddFunc("0 3 * * *", func() {
		if _, err := l.Prune(ttl, time.Now()); err != nil {
			slog.Error("dedup.prune_failed", "error", err)
		}
	})
}
