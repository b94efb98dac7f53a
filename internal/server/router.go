package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/alarmstacks/alarmstacks/internal/coordinator"
	"github.com/alarmstacks/alarmstacks/internal/liveactivity"
	"github.com/alarmstacks/alarmstacks/internal/model"
	"github.com/alarmstacks/alarmstacks/internal/store"
)

// Router provides embeddable HTTP handlers for managing stacks.
// Endpoints:
//
//	POST   {basePath}/stacks              body: Stack JSON
//	GET    {basePath}/stacks
//	GET    {basePath}/stacks/:id
//	DELETE {basePath}/stacks/:id
//	POST   {basePath}/stacks/:id/arm
//	POST   {basePath}/stacks/:id/disarm
//	POST   {basePath}/stacks/:id/schedule
//	GET    {basePath}/activities
//	POST   {basePath}/debug/rearm
//	POST   {basePath}/debug/sanitize
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	st       store.Store
	coord    *coordinator.Coordinator
	acts     *liveactivity.Manager
	basePath string
}

// NewRouter constructs a new Router with configurable basePath.
func NewRouter(st store.Store, coord *coordinator.Coordinator, acts *liveactivity.Manager, basePath string) *Router {
	return &Router{st: st, coord: coord, acts: acts, basePath: sanitizeBase(basePath)}
}

// Handler returns an http.Handler powered by gin that can be mounted in any
// server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.POST("/stacks", r.handleCreate)
	group.GET("/stacks", r.handleList)
	group.GET("/stacks/:id", r.handleGet)
	group.DELETE("/stacks/:id", r.handleDelete)
	group.POST("/stacks/:id/arm", r.handleArm)
	group.POST("/stacks/:id/disarm", r.handleDisarm)
	group.POST("/stacks/:id/schedule", r.handleSchedule)
	group.GET("/activities", r.handleActivities)
	group.POST("/debug/rearm", r.handleRearm)
	group.POST("/debug/sanitize", r.handleSanitize)
	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
func NewServer(addr, basePath string, st store.Store, coord *coordinator.Coordinator, acts *liveactivity.Manager) (*http.Server, error) {
	r := NewRouter(st, coord, acts, basePath)
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = server.ListenAndServe() }()
	return server, nil
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

type scheduleResp struct {
	AlarmIDs []string `json:"alarm_ids"`
}

func (r *Router) handleCreate(c *gin.Context) {
	var st model.Stack
	if err := c.ShouldBindJSON(&st); err != nil {
		c.JSON(http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if st.ID == "" {
		fresh := model.NewStack(st.Name)
		st.ID = fresh.ID
		st.CreatedAt = fresh.CreatedAt
	}
	for i := range st.Steps {
		if st.Steps[i].ID == "" {
			st.Steps[i].ID = model.NewStep(st.Steps[i].Title, st.Steps[i].Kind, st.Steps[i].Order).ID
		}
		if st.Steps[i].CreatedAt.IsZero() {
			st.Steps[i].CreatedAt = time.Now().UTC()
		}
	}
	if err := st.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	if err := r.st.SaveStack(c.Request.Context(), &st); err != nil {
		c.JSON(http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	c.JSON(http.StatusCreated, st)
}

func (r *Router) handleList(c *gin.Context) {
	stacks, err := r.st.ListStacks(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, stacks)
}

func (r *Router) handleGet(c *gin.Context) {
	st, ok := r.loadStack(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, st)
}

func (r *Router) handleDelete(c *gin.Context) {
	st, ok := r.loadStack(c)
	if !ok {
		return
	}
	if err := r.coord.CancelStack(c.Request.Context(), st); err != nil {
		c.JSON(http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	if err := r.st.DeleteStack(c.Request.Context(), st.ID); err != nil {
		c.JSON(http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, okResp{OK: true})
}

func (r *Router) handleArm(c *gin.Context) {
	st, ok := r.loadStack(c)
	if !ok {
		return
	}
	if !st.Armable() {
		c.JSON(http.StatusBadRequest, errorResp{Error: "stack has no enabled steps"})
		return
	}
	st.Armed = true
	if err := r.st.SaveStack(c.Request.Context(), st); err != nil {
		c.JSON(http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	ids, err := r.coord.ScheduleStack(c.Request.Context(), st)
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, scheduleResp{AlarmIDs: ids})
}

func (r *Router) handleDisarm(c *gin.Context) {
	st, ok := r.loadStack(c)
	if !ok {
		return
	}
	st.Armed = false
	if err := r.st.SaveStack(c.Request.Context(), st); err != nil {
		c.JSON(http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	if err := r.coord.CancelStack(c.Request.Context(), st); err != nil {
		c.JSON(http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, okResp{OK: true})
}

func (r *Router) handleSchedule(c *gin.Context) {
	st, ok := r.loadStack(c)
	if !ok {
		return
	}
	ids, err := r.coord.ScheduleStack(c.Request.Context(), st)
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, scheduleResp{AlarmIDs: ids})
}

func (r *Router) handleActivities(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"live": r.acts.Live()})
}

func (r *Router) handleRearm(c *gin.Context) {
	if err := r.coord.Rearm(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, okResp{OK: true})
}

func (r *Router) handleSanitize(c *gin.Context) {
	if err := r.coord.Sanitize(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, okResp{OK: true})
}

func (r *Router) loadStack(c *gin.Context) (*model.Stack, bool) {
	st, err := r.st.GetStack(c.Request.Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, errorResp{Error: "stack not found"})
		return nil, false
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorResp{Error: err.Error()})
		return nil, false
	}
	return st, true
}

func sanitizeBase(basePath string) string {
	bp := strings.TrimSpace(basePath)
	if bp == "" {
		return ""
	}
	if !strings.HasPrefix(bp, "/") {
		bp = "/" + bp
	}
	return strings.TrimSuffix(bp, "/")
}
