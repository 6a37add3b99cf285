package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"dirscan/internal/config"
	"dirscan/internal/control"
	"dirscan/utils"
)

// ScanHandler translates control-surface operations to HTTP. It holds no
// business logic: every method decodes the request, calls one Surface
// method, and encodes the response.
type ScanHandler struct {
	surface    *control.Surface
	configPath string
	logger     *zap.Logger
}

func NewScanHandler(surface *control.Surface, configPath string, logger *zap.Logger) *ScanHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ScanHandler{
		surface:    surface,
		configPath: configPath,
		logger:     logger,
	}
}

func (h *ScanHandler) respondNotFound(c *gin.Context, err error) bool {
	var notFound *control.ErrScanNotFound
	if errors.As(err, &notFound) {
		utils.SendErrorResponse(c, http.StatusNotFound, "scan not found", err)
		return true
	}
	return false
}

func (h *ScanHandler) ListScans(c *gin.Context) {
	scans := h.surface.ListScans()
	c.JSON(http.StatusOK, gin.H{
		"scans": scans,
		"count": len(scans),
	})
}

func (h *ScanHandler) GetScan(c *gin.Context) {
	summary, err := h.surface.GetScan(c.Param("slug"))
	if err != nil {
		if !h.respondNotFound(c, err) {
			utils.SendErrorResponse(c, http.StatusInternalServerError, "failed to get scan", err)
		}
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *ScanHandler) GetScanStatus(c *gin.Context) {
	status, err := h.surface.GetScanStatus(c.Param("slug"))
	if err != nil {
		if !h.respondNotFound(c, err) {
			utils.SendErrorResponse(c, http.StatusInternalServerError, "failed to get scan status", err)
		}
		return
	}
	c.JSON(http.StatusOK, status)
}

func (h *ScanHandler) GetScanProgress(c *gin.Context) {
	progress, err := h.surface.GetScanProgress(c.Param("slug"))
	if err != nil {
		if !h.respondNotFound(c, err) {
			utils.SendErrorResponse(c, http.StatusInternalServerError, "failed to get scan progress", err)
		}
		return
	}
	c.JSON(http.StatusOK, progress)
}

func (h *ScanHandler) GetScanResults(c *gin.Context) {
	latest := c.DefaultQuery("latest", "true") == "true"
	results, err := h.surface.GetScanResults(c.Param("slug"), latest)
	if err != nil {
		if !h.respondNotFound(c, err) {
			utils.SendErrorResponse(c, http.StatusInternalServerError, "failed to get scan results", err)
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"results": results,
		"count":   len(results),
	})
}

func (h *ScanHandler) GetScanHistory(c *gin.Context) {
	var since *time.Time
	if raw := c.Query("since"); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			utils.SendErrorResponse(c, http.StatusBadRequest, "since must be an RFC3339 timestamp", err)
			return
		}
		since = &ts
	}
	results, err := h.surface.GetScanHistory(c.Param("slug"), since)
	if err != nil {
		if !h.respondNotFound(c, err) {
			utils.SendErrorResponse(c, http.StatusInternalServerError, "failed to get scan history", err)
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"results": results,
		"count":   len(results),
	})
}

func (h *ScanHandler) TriggerScan(c *gin.Context) {
	slug := c.Param("slug")
	result, err := h.surface.TriggerScan(c.Request.Context(), slug)
	if err != nil {
		if !h.respondNotFound(c, err) {
			utils.SendErrorResponse(c, http.StatusInternalServerError, "failed to trigger scan", err)
		}
		return
	}
	if !result.Triggered {
		c.JSON(http.StatusOK, result)
		return
	}
	h.logger.Info("scan triggered", zap.String("slug", slug))
	c.JSON(http.StatusAccepted, result)
}

func (h *ScanHandler) ReloadConfig(c *gin.Context) {
	cfg, err := config.LoadFromFile(h.configPath)
	if err != nil {
		utils.SendErrorResponse(c, http.StatusBadRequest, "config reload failed", err)
		return
	}
	diff, err := h.surface.ReloadConfig(control.DescriptorMap(cfg.Scans))
	if err != nil {
		utils.SendErrorResponse(c, http.StatusInternalServerError, "config reload failed", err)
		return
	}
	c.JSON(http.StatusOK, diff)
}

func (h *ScanHandler) GetStorageStats(c *gin.Context) {
	stats, err := h.surface.GetStorageStats()
	if err != nil {
		utils.SendErrorResponse(c, http.StatusInternalServerError, "failed to get storage stats", err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func filtersFromQuery(c *gin.Context) control.Filters {
	return control.Filters{
		NasHost:    c.Query("nas_host"),
		FolderPath: c.Query("folder_path"),
		Slug:       c.Query("slug"),
	}
}

func (h *ScanHandler) GetAllFolders(c *gin.Context) {
	folders, err := h.surface.GetAllFolders(filtersFromQuery(c))
	if err != nil {
		utils.SendErrorResponse(c, http.StatusInternalServerError, "failed to list folders", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"folders": folders,
		"count":   len(folders),
	})
}

func daysFromQuery(c *gin.Context) (int, bool) {
	days, err := strconv.Atoi(c.DefaultQuery("days", "90"))
	if err != nil || days < 1 {
		utils.SendErrorResponse(c, http.StatusBadRequest, "days must be a positive integer", err)
		return 0, false
	}
	return days, true
}

func (h *ScanHandler) CleanupPreview(c *gin.Context) {
	days, ok := daysFromQuery(c)
	if !ok {
		return
	}
	count, err := h.surface.CleanupPreview(days, filtersFromQuery(c))
	if err != nil {
		utils.SendErrorResponse(c, http.StatusInternalServerError, "cleanup preview failed", err)
		return
	}
	utils.SendCountResponse(c, http.StatusOK, count, true)
}

func (h *ScanHandler) Cleanup(c *gin.Context) {
	days, ok := daysFromQuery(c)
	if !ok {
		return
	}
	count, err := h.surface.Cleanup(days, filtersFromQuery(c))
	if err != nil {
		utils.SendErrorResponse(c, http.StatusInternalServerError, "cleanup failed", err)
		return
	}
	h.logger.Info("cleanup completed", zap.Int("days", days), zap.Int64("deleted", count))
	utils.SendCountResponse(c, http.StatusOK, count, false)
}

func (h *ScanHandler) DeleteFolderResults(c *gin.Context) {
	filters := filtersFromQuery(c)
	if filters.NasHost == "" && filters.FolderPath == "" && filters.Slug == "" {
		utils.SendErrorResponse(c, http.StatusBadRequest, "at least one filter is required", nil)
		return
	}
	count, err := h.surface.DeleteFolderResults(filters)
	if err != nil {
		utils.SendErrorResponse(c, http.StatusInternalServerError, "failed to delete folder results", err)
		return
	}
	utils.SendCountResponse(c, http.StatusOK, count, false)
}

func (h *ScanHandler) DeleteScanResults(c *gin.Context) {
	count, err := h.surface.DeleteScanResults(c.Param("slug"))
	if err != nil {
		utils.SendErrorResponse(c, http.StatusInternalServerError, "failed to delete scan results", err)
		return
	}
	utils.SendCountResponse(c, http.StatusOK, count, false)
}

func (h *ScanHandler) DeleteAllResults(c *gin.Context) {
	count, err := h.surface.DeleteAllResults()
	if err != nil {
		utils.SendErrorResponse(c, http.StatusInternalServerError, "failed to delete results", err)
		return
	}
	h.logger.Warn("all history deleted", zap.Int64("rows", count))
	utils.SendCountResponse(c, http.StatusOK, count, false)
}

// Health reports process status, uptime, and the scheduler's non-fatal
// warnings (duplicate slugs, per-scan config errors).
func (h *ScanHandler) Health(startedAt time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":   "healthy",
			"time":     time.Now().UTC(),
			"uptime":   time.Since(startedAt).String(),
			"warnings": h.surface.Warnings(),
		})
	}
}
