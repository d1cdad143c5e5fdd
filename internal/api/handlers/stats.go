package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	gocache "github.com/patrickmn/go-cache"

	"github.com/your-org/facewatch/internal/storage"
)

// statsTTL bounds how stale dashboard numbers may be; the aggregate
// queries scan detection_logs and don't need to run per request.
const statsTTL = 30 * time.Second

type StatsHandler struct {
	store storage.Store
	cache *gocache.Cache
}

func NewStatsHandler(store storage.Store) *StatsHandler {
	return &StatsHandler{
		store: store,
		cache: gocache.New(statsTTL, time.Minute),
	}
}

func sinceDays(c *gin.Context, def int) (time.Time, int) {
	days, err := strconv.Atoi(c.DefaultQuery("days", strconv.Itoa(def)))
	if err != nil || days <= 0 || days > 365 {
		days = def
	}
	return time.Now().UTC().AddDate(0, 0, -days), days
}

// Overview returns registry size and detection totals for the window.
func (h *StatsHandler) Overview(c *gin.Context) {
	since, days := sinceDays(c, 7)

	key := fmt.Sprintf("overview:%d", days)
	if cached, ok := h.cache.Get(key); ok {
		c.JSON(http.StatusOK, cached)
		return
	}

	stats, err := h.store.OverviewStats(c.Request.Context(), since)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	h.cache.SetDefault(key, stats)
	c.JSON(http.StatusOK, stats)
}

// Daily returns per-day detection counts for the window.
func (h *StatsHandler) Daily(c *gin.Context) {
	since, days := sinceDays(c, 7)

	key := fmt.Sprintf("daily:%d", days)
	if cached, ok := h.cache.Get(key); ok {
		c.JSON(http.StatusOK, cached)
		return
	}

	counts, err := h.store.DailyCounts(c.Request.Context(), since)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := gin.H{"days": counts, "total": len(counts)}
	h.cache.SetDefault(key, resp)
	c.JSON(http.StatusOK, resp)
}

// Top returns the most frequently detected persons in the window.
func (h *StatsHandler) Top(c *gin.Context) {
	since, days := sinceDays(c, 7)

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "10"))
	if err != nil || limit <= 0 || limit > 100 {
		limit = 10
	}

	key := fmt.Sprintf("top:%d:%d", days, limit)
	if cached, ok := h.cache.Get(key); ok {
		c.JSON(http.StatusOK, cached)
		return
	}

	top, err := h.store.TopPersons(c.Request.Context(), since, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := gin.H{"persons": top, "total": len(top)}
	h.cache.SetDefault(key, resp)
	c.JSON(http.StatusOK, resp)
}

// System returns whole-registry counters.
func (h *StatsHandler) System(c *gin.Context) {
	if cached, ok := h.cache.Get("system"); ok {
		c.JSON(http.StatusOK, cached)
		return
	}

	stats, err := h.store.SystemStats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	h.cache.SetDefault("system", stats)
	c.JSON(http.StatusOK, stats)
}
