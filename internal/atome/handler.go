package atome

import (
	"context"
	"net/http"
	"strconv"

	"atome-store/internal/domain"
	apierrors "atome-store/internal/errors"
	"atome-store/internal/share"
	"atome-store/internal/store"

	"github.com/gin-gonic/gin"
)

// Historian exposes the append-only version log. Both ledger
// implementations satisfy it.
type Historian interface {
	History(ctx context.Context, atomeID, key string, limit int) ([]domain.ParticleVersion, error)
}

// Handler serves the atome HTTP surface. The same routes back the remote
// mirror adapter, so request and response shapes match what it sends.
type Handler struct {
	service   *Service
	historian Historian
}

func NewHandler(service *Service, historian Historian) *Handler {
	return &Handler{service: service, historian: historian}
}

func envelope(data any) gin.H {
	return gin.H{"success": true, "data": data}
}

// Create inserts a new atome owned by the caller.
func (h *Handler) Create(c *gin.Context) {
	var payload domain.Atome
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.Error(apierrors.Invalid("Invalid atome payload", err))
		return
	}

	callerID := c.GetString("user_id")
	input := CreateInput{
		ID:        payload.ID,
		Type:      payload.Type,
		OwnerID:   payload.OwnerID,
		Particles: payload.Particles,
	}
	if payload.ParentID != nil {
		input.ParentID = *payload.ParentID
	}

	result, err := h.service.Create(c.Request.Context(), callerID, input)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, envelope(result.Primary.Data))
}

// Show returns one atome. includeDeleted reads are owner-only.
func (h *Handler) Show(c *gin.Context) {
	callerID := c.GetString("user_id")
	atomeID := c.Param("id")

	if c.Query("includeDeleted") == "true" {
		atome, err := h.service.GetTombstoned(c.Request.Context(), callerID, atomeID)
		if err != nil {
			c.Error(err)
			return
		}
		c.JSON(http.StatusOK, envelope(atome))
		return
	}

	atome, err := h.service.Get(c.Request.Context(), callerID, atomeID)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, envelope(atome))
}

// Index lists the caller's atomes, merged across backends when mirroring.
func (h *Handler) Index(c *gin.Context) {
	callerID := c.GetString("user_id")
	ownerID := c.Query("ownerId")
	if ownerID == "" {
		ownerID = callerID
	}
	if ownerID != callerID {
		c.Error(apierrors.Unauthorized("Cannot list another user's atomes", nil))
		return
	}

	q := store.Query{
		Type:           c.Query("type"),
		OwnerID:        ownerID,
		ParentID:       c.Query("parentId"),
		IncludeDeleted: c.Query("includeDeleted") == "true",
		IncludeShared:  c.Query("includeShared") == "true",
	}
	if limit, err := strconv.Atoi(c.Query("limit")); err == nil && limit > 0 {
		q.Limit = limit
	}
	if offset, err := strconv.Atoi(c.Query("offset")); err == nil && offset > 0 {
		q.Offset = offset
	}

	atomes, err := h.service.List(c.Request.Context(), callerID, q)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, envelope(atomes))
}

type alterForm struct {
	Particles map[string]any `json:"particles" binding:"required"`
	Author    string         `json:"author"`
}

// Alter shallow-merges particles into the atome.
func (h *Handler) Alter(c *gin.Context) {
	var form alterForm
	if err := c.ShouldBindJSON(&form); err != nil {
		c.Error(apierrors.Invalid("Invalid patch payload", err))
		return
	}

	result, err := h.service.Alter(c.Request.Context(), c.GetString("user_id"), c.Param("id"), form.Particles)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, envelope(result.Primary.Data))
}

// Delete tombstones the atome.
func (h *Handler) Delete(c *gin.Context) {
	result, err := h.service.Delete(c.Request.Context(), c.GetString("user_id"), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, envelope(result.Primary.Data))
}

type migrateForm struct {
	FromOwnerID string `json:"from_owner_id" binding:"required"`
	ToOwnerID   string `json:"to_owner_id" binding:"required"`
}

// Migrate bulk-reassigns ownership. Only the receiving user may call it.
func (h *Handler) Migrate(c *gin.Context) {
	var form migrateForm
	if err := c.ShouldBindJSON(&form); err != nil {
		c.Error(apierrors.Invalid("Invalid migration payload", err))
		return
	}
	if form.ToOwnerID != c.GetString("user_id") {
		c.Error(apierrors.Unauthorized("Can only migrate atomes to yourself", nil))
		return
	}

	result, err := h.service.Migrate(c.Request.Context(), form.FromOwnerID, form.ToOwnerID)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, envelope(gin.H{"moved": result.PrimaryMoved}))
}

// History returns the append-only particle version log of an atome.
func (h *Handler) History(c *gin.Context) {
	callerID := c.GetString("user_id")
	atomeID := c.Param("id")

	allowed, err := h.service.engine.CheckPermission(c.Request.Context(), callerID, atomeID, share.Read)
	if err != nil {
		c.Error(err)
		return
	}
	if !allowed {
		c.Error(apierrors.NotFound("Atome not found", nil))
		return
	}

	limit := 0
	if parsed, err := strconv.Atoi(c.Query("limit")); err == nil && parsed > 0 {
		limit = parsed
	}
	versions, err := h.historian.History(c.Request.Context(), atomeID, c.Query("key"), limit)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, envelope(versions))
}
