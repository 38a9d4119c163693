package status

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/stupid-simple/devbackup/backup"
	"github.com/stupid-simple/devbackup/backuperr"
	"github.com/stupid-simple/devbackup/config"
	"github.com/stupid-simple/devbackup/scheduler"
)

const defaultRunsLimit = 20

type recordView struct {
	ID          string     `json:"id"`
	Method      string     `json:"method"`
	Destination string     `json:"destination"`
	Location    string     `json:"location"`
	SizeBytes   int64      `json:"size_bytes"`
	CreatedAt   time.Time  `json:"created_at"`
	Status      string     `json:"status"`
	Files       []fileView `json:"files,omitempty"`
	Skipped     []skipView `json:"skipped,omitempty"`
}

type fileView struct {
	Path    string    `json:"path"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

type skipView struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

type runView struct {
	ID          string    `json:"id"`
	RecordID    string    `json:"record_id,omitempty"`
	Method      string    `json:"method"`
	Destination string    `json:"destination"`
	Status      string    `json:"status"`
	Error       string    `json:"error,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	SizeBytes   int64     `json:"size_bytes"`
}

func toRecordView(r backup.Record) recordView {
	v := recordView{
		ID:          r.ID,
		Method:      string(r.Method),
		Destination: r.Destination,
		Location:    r.Location,
		SizeBytes:   r.SizeBytes,
		CreatedAt:   r.CreatedAt,
		Status:      string(r.Status),
	}
	for _, f := range r.Files {
		v.Files = append(v.Files, fileView{Path: f.Path, Size: f.Size, ModTime: f.ModTime})
	}
	for _, sk := range r.Skipped {
		v.Skipped = append(v.Skipped, skipView{Path: sk.Path, Reason: sk.Reason})
	}
	return v
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleListRecords(c *gin.Context) {
	limit, ok := queryLimit(c, 0)
	if !ok {
		return
	}
	records, err := s.store.ListRecords(c.Request.Context(), backup.RecordFilter{
		Method:      config.Method(c.Query("method")),
		Destination: c.Query("destination"),
		Limit:       limit,
	})
	if err != nil {
		s.internalError(c, err)
		return
	}
	out := make([]recordView, 0, len(records))
	for _, r := range records {
		out = append(out, toRecordView(r))
	}
	c.JSON(http.StatusOK, gin.H{"records": out})
}

func (s *Server) handleGetRecord(c *gin.Context) {
	rec, err := s.store.FindRecord(c.Request.Context(), c.Param("id"))
	if errors.Is(err, backuperr.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		s.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, toRecordView(*rec))
}

func (s *Server) handleListRuns(c *gin.Context) {
	limit, ok := queryLimit(c, defaultRunsLimit)
	if !ok {
		return
	}
	runs, err := s.store.ListRuns(c.Request.Context(), limit)
	if err != nil {
		s.internalError(c, err)
		return
	}
	out := make([]runView, 0, len(runs))
	for _, r := range runs {
		out = append(out, runView{
			ID:          r.ID,
			RecordID:    r.RecordID,
			Method:      string(r.Method),
			Destination: r.Destination,
			Status:      string(r.Status),
			Error:       r.Error,
			StartedAt:   r.StartedAt,
			FinishedAt:  r.FinishedAt,
			SizeBytes:   r.SizeBytes,
		})
	}
	c.JSON(http.StatusOK, gin.H{"runs": out})
}

func (s *Server) handleListJobs(c *gin.Context) {
	jobs := []scheduler.JobInfo{}
	if s.jobs != nil {
		jobs = s.jobs.Jobs()
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs})
}

func (s *Server) internalError(c *gin.Context, err error) {
	s.logger.Error().Err(err).Str("path", c.Request.URL.Path).Msg("request failed")
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

func queryLimit(c *gin.Context, def int) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
		return 0, false
	}
	return n, true
}
