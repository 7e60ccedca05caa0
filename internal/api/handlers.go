package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yangwenmai/fieldbox/internal/model"
	"github.com/yangwenmai/fieldbox/internal/outbox"
	"github.com/yangwenmai/fieldbox/internal/store"
)

// ---------------------------------------------------------------------------
// POST /api/submissions
// ---------------------------------------------------------------------------

type submitRequest struct {
	model.Submission
	// GPSFlag is accepted from older forms that sent the flag under this name.
	GPSFlag model.Flag `json:"gps_flag"`
}

func (s *Server) handleSubmit(c *gin.Context) {
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid JSON body")
		return
	}
	sub := req.Submission
	// The delivery target comes from configuration only.
	sub.Endpoint = ""
	if sub.FakeGPS.IsZero() && !req.GPSFlag.IsZero() {
		sub.FakeGPS = req.GPSFlag
	}
	if sub.AppVersion == "" {
		sub.AppVersion = s.appVersion
	}
	if err := s.validate.Struct(&sub); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":  "validation failed",
			"fields": validationErrors(err),
		})
		return
	}

	res, err := s.outbox.SubmitNow(c.Request.Context(), &sub, outbox.Callbacks{})
	if err != nil {
		s.logger.WithError(err).Error("submission could not be queued")
		writeError(c, http.StatusInternalServerError, "failed to queue submission")
		return
	}

	status := http.StatusCreated
	if res.Queued {
		status = http.StatusAccepted
	}
	c.JSON(status, res)
}

// ---------------------------------------------------------------------------
// GET /api/outbox
// ---------------------------------------------------------------------------

func (s *Server) handleListOutbox(c *gin.Context) {
	items, err := s.store.ListOrdered(c.Request.Context())
	if err != nil {
		writeError(c, http.StatusInternalServerError, "failed to list outbox")
		return
	}
	out := make([]model.Submission, 0, len(items))
	for _, it := range items {
		out = append(out, it.WithoutPhoto())
	}
	c.JSON(http.StatusOK, out)
}

// ---------------------------------------------------------------------------
// GET /api/outbox/:id
// ---------------------------------------------------------------------------

func (s *Server) handleGetOutboxItem(c *gin.Context) {
	item, err := s.store.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(c, http.StatusNotFound, "item not found")
		return
	}
	if err != nil {
		writeError(c, http.StatusInternalServerError, "failed to get item")
		return
	}
	c.JSON(http.StatusOK, item)
}

// ---------------------------------------------------------------------------
// POST /api/outbox/flush
// ---------------------------------------------------------------------------

func (s *Server) handleFlush(c *gin.Context) {
	rep, started := s.outbox.Flush(c.Request.Context())
	if !started {
		c.JSON(http.StatusOK, gin.H{"started": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"started": true, "report": rep})
}

// ---------------------------------------------------------------------------
// GET /api/status
// ---------------------------------------------------------------------------

func (s *Server) handleStatus(c *gin.Context) {
	n, err := s.store.Count(c.Request.Context())
	if err != nil {
		writeError(c, http.StatusInternalServerError, "failed to count outbox")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"online": s.signal.Online(),
		"state":  s.engine.State().String(),
		"queued": n,
	})
}

// ---------------------------------------------------------------------------
// PUT /api/connectivity
// ---------------------------------------------------------------------------

type connectivityRequest struct {
	Online *bool `json:"online" validate:"required"`
}

func (s *Server) handleSetConnectivity(c *gin.Context) {
	setter, ok := s.signal.(Setter)
	if !ok {
		writeError(c, http.StatusConflict, "connectivity is probed, not set")
		return
	}
	var req connectivityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.validate.Struct(&req); err != nil {
		writeError(c, http.StatusBadRequest, "online is required")
		return
	}
	restored := setter.Set(*req.Online)
	c.JSON(http.StatusOK, gin.H{"online": *req.Online, "restored": restored})
}

// ---------------------------------------------------------------------------
// everything else
// ---------------------------------------------------------------------------

func (s *Server) handleNoRoute(c *gin.Context) {
	if s.assets == nil || c.Request.Method != http.MethodGet {
		writeError(c, http.StatusNotFound, "not found")
		return
	}
	s.assets.ServeHTTP(c.Writer, c.Request)
}
