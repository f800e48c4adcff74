package availability

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/md-rashed-zaman/pestledger/services/appointment-service/internal/apperr"
	"github.com/md-rashed-zaman/pestledger/services/appointment-service/internal/metrics"
)

// OccupancySource lists the scheduled instants of non-cancelled
// appointments in [from, to).
type OccupancySource interface {
	ListOccupied(ctx context.Context, from, to time.Time) ([]time.Time, error)
}

// Index answers availability queries. Availability is always derived
// from the store; the cache is only a read-through projection.
type Index struct {
	src     OccupancySource
	grid    Grid
	cache   Cache
	metrics *metrics.Metrics
	logger  *slog.Logger

	// dirty holds months whose invalidation failed. They are served from
	// the store until an invalidation retry succeeds.
	mu    sync.Mutex
	dirty map[MonthKey]struct{}
}

// NewIndex builds an Index. cache may be nil to disable caching.
func NewIndex(src OccupancySource, grid Grid, cache Cache, m *metrics.Metrics, logger *slog.Logger) *Index {
	if logger == nil {
		logger = slog.Default()
	}
	return &Index{src: src, grid: grid, cache: cache, metrics: m, logger: logger, dirty: map[MonthKey]struct{}{}}
}

func (ix *Index) Grid() Grid { return ix.grid }

func (ix *Index) Availability(ctx context.Context, year, month int) ([]Day, error) {
	if month < 1 || month > 12 {
		return nil, apperr.InvalidRequest("month must be between 1 and 12")
	}
	if year < 1 || year > 9999 {
		return nil, apperr.InvalidRequest("year must be between 1 and 9999")
	}
	key := MonthKey{Year: year, Month: time.Month(month)}

	var gen int64
	cached := ix.cache != nil && ix.clean(ctx, key)
	if cached {
		var err error
		gen, err = ix.cache.Generation(ctx, key)
		if err != nil {
			ix.logger.Warn("availability cache unavailable", "month", key.String(), "err", err)
			ix.metrics.ObserveCache("error")
			cached = false
		}
	}
	if cached {
		days, ok, err := ix.cache.Get(ctx, key, gen)
		switch {
		case err != nil:
			ix.logger.Warn("availability cache read failed", "month", key.String(), "err", err)
			ix.metrics.ObserveCache("error")
		case ok:
			ix.metrics.ObserveCache("hit")
			return days, nil
		default:
			ix.metrics.ObserveCache("miss")
		}
	}

	from, to := MonthRange(year, time.Month(month), ix.grid.location())
	occupied, err := ix.src.ListOccupied(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("list occupied %s: %w", key, err)
	}
	days := MonthAvailability(year, time.Month(month), ix.grid, occupied)

	if cached {
		if err := ix.cache.Set(ctx, key, gen, days); err != nil {
			ix.logger.Warn("availability cache write failed", "month", key.String(), "err", err)
		}
	}
	return days, nil
}

// DaySlots lists the slots of date ("2006-01-02").
func (ix *Index) DaySlots(ctx context.Context, date string) ([]Slot, error) {
	day, err := time.ParseInLocation(DateLayout, date, ix.grid.location())
	if err != nil {
		return nil, apperr.InvalidRequest("date must be YYYY-MM-DD")
	}
	occupied, err := ix.src.ListOccupied(ctx, day, day.AddDate(0, 0, 1))
	if err != nil {
		return nil, fmt.Errorf("list occupied %s: %w", date, err)
	}
	return DaySlots(day, ix.grid, occupied), nil
}

// Invalidate drops the cached projection of the month containing at. It
// must be called after the write that changed occupancy has committed. If
// the cache cannot be reached the month bypasses the cache until a later
// invalidation goes through.
func (ix *Index) Invalidate(ctx context.Context, at time.Time) {
	if ix.cache == nil {
		return
	}
	key := KeyOf(at.In(ix.grid.location()))
	if err := ix.cache.Invalidate(ctx, key); err != nil {
		ix.logger.Error("availability cache invalidation failed", "month", key.String(), "err", err)
		ix.mu.Lock()
		ix.dirty[key] = struct{}{}
		ix.mu.Unlock()
		return
	}
	ix.mu.Lock()
	delete(ix.dirty, key)
	ix.mu.Unlock()
}

// clean reports whether key may be served from the cache, retrying a
// failed invalidation first.
func (ix *Index) clean(ctx context.Context, key MonthKey) bool {
	ix.mu.Lock()
	_, stale := ix.dirty[key]
	ix.mu.Unlock()
	if !stale {
		return true
	}
	if err := ix.cache.Invalidate(ctx, key); err != nil {
		ix.metrics.ObserveCache("bypass")
		return false
	}
	ix.mu.Lock()
	delete(ix.dirty, key)
	ix.mu.Unlock()
	return true
}
