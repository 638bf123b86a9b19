package engine

import (
	"time"

	"github.com/RussellLuo/slidingwindow"
	"github.com/puzpuzpuz/xsync/v4"
)

// Tracks punishments in flight per (tenant, actor), so concurrent triggers for one actor produce a single punishment.
type punishGuard struct {
	inflight *xsync.Map[string, struct{}]
}

func newPunishGuard() *punishGuard {
	return &punishGuard{inflight: xsync.NewMap[string, struct{}]()}
}

// Returns false if a punishment for the pair is already running. On true, the caller must call release.
func (g *punishGuard) acquire(tenantID, actorID string) bool {
	_, loaded := g.inflight.LoadOrStore(tenantID+"/"+actorID, struct{}{})
	return !loaded
}

func (g *punishGuard) release(tenantID, actorID string) {
	g.inflight.Delete(tenantID + "/" + actorID)
}

func windowFunc() (slidingwindow.Window, slidingwindow.StopFunc) {
	return slidingwindow.NewLocalWindow()
}

// Per-tenant hourly cap on punishments. Guards against mass-kicking when attribution goes wrong.
type punishBreaker struct {
	limit    int64
	limiters *xsync.Map[string, *slidingwindow.Limiter]
}

func newPunishBreaker(limit int) *punishBreaker {
	return &punishBreaker{
		limit:    int64(limit),
		limiters: xsync.NewMap[string, *slidingwindow.Limiter](),
	}
}

// Consumes one unit of the tenant's quota. Always true when the limit is zero.
func (b *punishBreaker) allow(tenantID string, now time.Time) bool {
	if b.limit <= 0 {
		return true
	}
	lim, _ := b.limiters.LoadOrCompute(tenantID, func() (*slidingwindow.Limiter, bool) {
		lim, _ := slidingwindow.NewLimiter(time.Hour, b.limit, windowFunc)
		return lim, false
	})
	return lim.AllowN(now, 1)
}
