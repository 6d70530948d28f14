package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/taoyao-code/vndstream/internal/storage"
	"github.com/taoyao-code/vndstream/internal/storage/models"
)

const (
	defaultRunLimit = 20
	maxRunLimit     = 200
)

// runView 列表中的一行，不含规则与完整报告
type runView struct {
	RunID              string    `json:"run_id"`
	Device             string    `json:"device,omitempty"`
	Mode               string    `json:"mode"`
	Result             string    `json:"result"`
	FinalState         string    `json:"final_state"`
	StartedAt          time.Time `json:"started_at"`
	DurationMs         int64     `json:"duration_ms"`
	PairsCompleted     int64     `json:"pairs_completed"`
	OrderingViolations int64     `json:"ordering_violations"`
	ChecksumErrors     int64     `json:"checksum_errors"`
}

func toView(r models.ComplianceRun) runView {
	return runView{
		RunID:              r.RunID,
		Device:             r.Device,
		Mode:               r.Mode,
		Result:             r.Result,
		FinalState:         r.FinalState,
		StartedAt:          r.StartedAt,
		DurationMs:         r.DurationMs,
		PairsCompleted:     r.PairsCompleted,
		OrderingViolations: r.OrderingViolations,
		ChecksumErrors:     r.ChecksumErrors,
	}
}

// runHandler 历史运行查询
type runHandler struct {
	repo storage.RunRepo
}

// List GET /runs?device=&limit=
func (h *runHandler) List(c *gin.Context) {
	device := c.Query("device")
	limit := defaultRunLimit
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = min(n, maxRunLimit)
	}

	runs, err := h.repo.ListRuns(c.Request.Context(), device, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query runs", "detail": err.Error()})
		return
	}
	views := make([]runView, 0, len(runs))
	for _, r := range runs {
		views = append(views, toView(r))
	}
	c.JSON(http.StatusOK, gin.H{
		"device": device,
		"count":  len(views),
		"runs":   views,
	})
}

// Get GET /runs/:run_id，返回入库时的完整报告
func (h *runHandler) Get(c *gin.Context) {
	runID := c.Param("run_id")
	run, err := h.repo.GetRun(c.Request.Context(), runID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query run", "detail": err.Error()})
		return
	}
	if json.Valid(run.Report) {
		c.Data(http.StatusOK, "application/json; charset=utf-8", run.Report)
		return
	}

	rules := make([]gin.H, 0, len(run.Rules))
	for _, r := range run.Rules {
		rules = append(rules, gin.H{"id": r.RuleID, "verdict": r.Verdict, "reason": r.Reason})
	}
	c.JSON(http.StatusOK, gin.H{"run": toView(*run), "rules": rules})
}
