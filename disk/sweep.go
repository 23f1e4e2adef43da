package disk

import (
	"time"

	"go.uber.org/zap"

	"github.com/IvanBrykalov/tiercache/tier"
)

// sweepLoop runs Sweep every interval. The timer is re-armed only after a
// sweep returns, so cycles never overlap.
func (t *Tier[V]) sweepLoop(interval time.Duration) {
	defer close(t.sweepDone)
	timer := time.NewTimer(interval)
	defer timer.Stop()
	for {
		select {
		case <-t.stop:
			return
		case <-timer.C:
			t.Sweep()
			timer.Reset(interval)
		}
	}
}

// Sweep runs one trim cycle now: size budget, count budget, then expiry.
// It never waits for the tier lock; if a foreground call holds it the
// cycle is skipped and Sweep returns false.
func (t *Tier[V]) Sweep() bool {
	if !t.usable() {
		return false
	}
	if !t.mu.TryLock() {
		t.log.Debug("sweep skipped, tier busy")
		return false
	}
	defer t.mu.Unlock()

	if t.opt.SizeLimit > 0 && t.evictLocked(tier.EvictCost) > 0 {
		t.checkpointLocked()
	}
	if t.opt.CountLimit > 0 && t.evictLocked(tier.EvictCount) > 0 {
		t.checkpointLocked()
	}
	if t.opt.MaxAge > 0 {
		if n, _ := t.expireLocked(); n > 0 {
			t.checkpointLocked()
		}
	}
	t.reportSizeLocked()
	return true
}

// RemoveExpired drops every record older than MaxAge, waiting for the
// lock if necessary. It reports false when expiry is disabled or when
// some expired record could not be removed.
func (t *Tier[V]) RemoveExpired() bool {
	if !t.usable() || t.opt.MaxAge <= 0 {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.expireLocked()
	if n > 0 {
		t.checkpointLocked()
	}
	t.reportSizeLocked()
	return ok
}

// evictLocked removes least recently accessed records in batches until
// the budget selected by reason holds. It returns the number removed and
// stops early on the first failure, since the same candidate would come
// back in the next batch.
func (t *Tier[V]) evictLocked(reason tier.EvictReason) int {
	removed := 0
	for {
		var over bool
		var total int64
		var err error
		if reason == tier.EvictCost {
			total, err = t.idx.TotalSize()
			over = total > t.opt.SizeLimit
		} else {
			total, err = t.idx.TotalCount()
			over = total > int64(t.opt.CountLimit)
		}
		if err != nil {
			t.log.Warn("sweep: totals failed", zap.Stringer("reason", reason), zap.Error(err))
			return removed
		}
		if !over {
			return removed
		}

		cands, err := t.idx.EvictionCandidates(evictBatch)
		if err != nil || len(cands) == 0 {
			if err != nil {
				t.log.Warn("sweep: candidates failed", zap.Error(err))
			}
			return removed
		}
		for _, c := range cands {
			if err := t.idx.Remove(c.Key); err != nil {
				t.log.Warn("sweep: evict failed", zap.String("key", c.Key), zap.Error(err))
				return removed
			}
			removed++
			t.stats.Evictions.Add(1)
			t.metrics.Evict(reason, 1)
			if reason == tier.EvictCost {
				total -= c.Size
				over = total > t.opt.SizeLimit
			} else {
				total--
				over = total > int64(t.opt.CountLimit)
			}
			if !over {
				return removed
			}
		}
	}
}

// expireLocked removes expired records and returns how many went away.
// ok is false if any of them could not be removed; those records stay
// and are retried on the next cycle while the rest are still deleted.
func (t *Tier[V]) expireLocked() (n int64, ok bool) {
	n, err := t.idx.RemoveExpired(t.now().Add(-t.opt.MaxAge))
	if err != nil {
		t.log.Warn("sweep: expiry incomplete", zap.Int64("removed", n), zap.Error(err))
	}
	if n > 0 {
		t.stats.Evictions.Add(n)
		t.metrics.Evict(tier.EvictExpired, int(n))
		t.log.Debug("expired records removed", zap.Int64("n", n))
	}
	return n, err == nil
}

func (t *Tier[V]) checkpointLocked() {
	if err := t.idx.Checkpoint(); err != nil {
		t.log.Warn("checkpoint failed", zap.Error(err))
	}
}

func (t *Tier[V]) reportSizeLocked() {
	n, err1 := t.idx.TotalCount()
	size, err2 := t.idx.TotalSize()
	if err1 == nil && err2 == nil {
		t.metrics.Size(int(n), size)
	}
}
