package httpapi

import (
	"errors"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"outbound-orchestrator/internal/audit"
	"outbound-orchestrator/internal/auth"
	"outbound-orchestrator/internal/calljobs"
	"outbound-orchestrator/internal/dispatcher"
	"outbound-orchestrator/internal/rbac"
	"outbound-orchestrator/internal/reporting"
	"outbound-orchestrator/internal/transcript"
	"outbound-orchestrator/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Auth        *auth.Manager
	Jobs        *calljobs.Service
	Dispatcher  *dispatcher.Dispatcher
	Transcripts *transcript.Service
	Reports     *reporting.Service
	// Audit is optional; operator actions are recorded best-effort.
	Audit *audit.Service

	// DefaultLimit applies to manual dispatcher runs without ?limit=.
	DefaultLimit int

	Now func() time.Time
}

func (h Handlers) now() time.Time {
	if h.Now == nil {
		return time.Now()
	}
	return h.Now()
}

func (h Handlers) recordAudit(c *gin.Context, typ audit.EventType, jobID, message string, details any) {
	if h.Audit == nil {
		return
	}
	ctx := c.Request.Context()
	id, _ := auth.IdentityFrom(ctx)
	actor := audit.Actor{UserID: id.UserID, Role: id.Role, IP: c.ClientIP()}
	if err := h.Audit.LogAction(ctx, typ, actor, jobID, message, details); err != nil {
		logger.FromGin(c).Warn("audit append failed", "type", string(typ), "err", err)
	}
}

// --- Auth ---

type issueTokenRequest struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
	// TTL is a Go duration string, e.g. "2160h" for a service token.
	TTL string `json:"ttl,omitempty"`
}

// IssueToken mints an access token for an operator or the signup trigger.
// RBAC: admin.
func (h Handlers) IssueToken(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req issueTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.UserID == "" || !rbac.Known(req.Role) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id and a known role required"})
		return
	}
	var ttl time.Duration
	if req.TTL != "" {
		d, err := time.ParseDuration(req.TTL)
		if err != nil || d <= 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid ttl"})
			return
		}
		ttl = d
	}
	tok, err := h.Auth.IssueAccess(h.now(), req.UserID, req.Role, ttl)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	h.recordAudit(c, audit.EventTypeTokenIssued, "", "access token issued", gin.H{"user_id": req.UserID, "role": req.Role, "ttl": req.TTL})
	c.JSON(http.StatusOK, gin.H{"access_token": tok})
}

func (h Handlers) Me(c *gin.Context) {
	id, _ := auth.IdentityFrom(c.Request.Context())
	c.JSON(http.StatusOK, id)
}

// --- Calls ---

type enqueueRequest struct {
	SubjectID   string            `json:"subject_id"`
	Purpose     string            `json:"purpose"`
	PhoneNumber string            `json:"phone_number"`
	Artifacts   map[string]string `json:"artifacts"`
	MaxAttempts int               `json:"max_attempts"`
}

var e164 = regexp.MustCompile(`^\+[1-9][0-9]{7,14}$`)

// EnqueueCall creates a CallJob. A live job for the same subject, purpose and
// window is returned with deduplicated=true and 200 instead of 201.
// RBAC: service, operator.
func (h Handlers) EnqueueCall(c *gin.Context) {
	if h.Jobs == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "jobs not configured"})
		return
	}
	var req enqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	phone := strings.ReplaceAll(strings.TrimSpace(req.PhoneNumber), " ", "")
	if !e164.MatchString(phone) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "phone_number must be E.164"})
		return
	}

	res, err := h.Jobs.Enqueue(c.Request.Context(), calljobs.EnqueueRequest{
		SubjectID:   req.SubjectID,
		Purpose:     req.Purpose,
		PhoneNumber: phone,
		Artifacts:   calljobs.Artifacts(req.Artifacts),
		MaxAttempts: req.MaxAttempts,
	})
	if err != nil {
		if errors.Is(err, calljobs.ErrInvalidArgument) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		logger.FromGin(c).Error("enqueue failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "enqueue failed"})
		return
	}

	status := http.StatusCreated
	if res.Deduplicated {
		status = http.StatusOK
	} else {
		h.recordAudit(c, audit.EventTypeCallEnqueued, res.Job.ID, "call enqueued", gin.H{"purpose": res.Job.Purpose})
	}
	logger.FromGin(c).Info("call enqueued", "job_id", res.Job.ID, "purpose", res.Job.Purpose, "deduplicated", res.Deduplicated)
	c.JSON(status, res)
}

func (h Handlers) GetCall(c *gin.Context) {
	if h.Jobs == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "jobs not configured"})
		return
	}
	j, err := h.Jobs.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, calljobs.ErrNotFound) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "call job not found"})
		return
	}
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return
	}
	c.JSON(http.StatusOK, j)
}

func (h Handlers) GetTranscript(c *gin.Context) {
	if h.Jobs == nil || h.Transcripts == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "transcripts not configured"})
		return
	}
	id := c.Param("id")
	if _, err := h.Jobs.Get(c.Request.Context(), id); err != nil {
		if errors.Is(err, calljobs.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "call job not found"})
			return
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return
	}
	turns, err := h.Transcripts.List(c.Request.Context(), id)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "transcript lookup failed"})
		return
	}
	if turns == nil {
		turns = []transcript.Turn{}
	}
	c.JSON(http.StatusOK, gin.H{"job_id": id, "turns": turns})
}

// --- Reports ---

// CallsSummary aggregates jobs created in [from, to). Both are RFC 3339;
// the default window is the last 24 hours.
func (h Handlers) CallsSummary(c *gin.Context) {
	if h.Reports == nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "reports not configured"})
		return
	}
	to := h.now().UTC()
	from := to.Add(-24 * time.Hour)
	for key, dst := range map[string]*time.Time{"from": &from, "to": &to} {
		raw := c.Query(key)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": key + " must be RFC 3339"})
			return
		}
		*dst = t.UTC()
	}

	out, err := h.Reports.CallsSummary(c.Request.Context(), reporting.CallsSummaryRequest{
		Range:   reporting.TimeRange{From: from, To: to},
		Purpose: c.Query("purpose"),
	})
	if errors.Is(err, reporting.ErrInvalidRequest) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "from must be before to"})
		return
	}
	if err != nil {
		logger.FromGin(c).Error("calls summary failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "report failed"})
		return
	}
	c.JSON(http.StatusOK, out)
}

// --- Dispatcher ---

// RunDispatcher performs one sweep on demand.
// RBAC: operator.
func (h Handlers) RunDispatcher(c *gin.Context) {
	if h.Dispatcher == nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "dispatcher not configured"})
		return
	}
	limit := h.DefaultLimit
	if limit <= 0 {
		limit = 10
	}
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 500 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 500"})
			return
		}
		limit = n
	}
	rep, err := h.Dispatcher.RunOnce(c.Request.Context(), limit)
	if err != nil {
		logger.FromGin(c).Error("manual dispatcher run failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "dispatcher run failed"})
		return
	}
	h.recordAudit(c, audit.EventTypeDispatcherRun, "", "manual dispatcher run", gin.H{"limit": limit, "attempted": rep.Attempted})
	c.JSON(http.StatusOK, rep)
}

func (h Handlers) ReconcileDispatcher(c *gin.Context) {
	if h.Dispatcher == nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "dispatcher not configured"})
		return
	}
	rep, err := h.Dispatcher.Reconcile(c.Request.Context())
	if err != nil {
		logger.FromGin(c).Error("manual reconcile failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "reconcile failed"})
		return
	}
	h.recordAudit(c, audit.EventTypeDispatcherReconcile, "", "manual reconcile", gin.H{"expired": len(rep.Expired)})
	c.JSON(http.StatusOK, rep)
}

// AuditTrail lists recent operator actions, newest first.
// RBAC: admin.
func (h Handlers) AuditTrail(c *gin.Context) {
	if h.Audit == nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "audit not configured"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	events, err := h.Audit.Recent(c.Request.Context(), limit)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "audit lookup failed"})
		return
	}
	if events == nil {
		events = []audit.Event{}
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

// RegisterRoutes mounts the operator API under v1, behind authMW.
func (h Handlers) RegisterRoutes(v1 *gin.RouterGroup, authMW gin.HandlerFunc) {
	v1.Use(authMW)

	v1.GET("/me", h.Me)
	v1.POST("/auth/token", rbac.RequireAnyRole(rbac.RoleAdmin), h.IssueToken)

	calls := v1.Group("/calls")
	{
		calls.POST("", rbac.RequireAnyRole(rbac.RoleService, rbac.RoleOperator), h.EnqueueCall)
		calls.GET("/:id", rbac.RequireAnyRole(rbac.RoleOperator), h.GetCall)
		calls.GET("/:id/transcript", rbac.RequireAnyRole(rbac.RoleOperator), h.GetTranscript)
	}

	v1.GET("/reports/calls", rbac.RequireAnyRole(rbac.RoleOperator), h.CallsSummary)
	v1.GET("/audit", rbac.RequireAnyRole(rbac.RoleAdmin), h.AuditTrail)

	disp := v1.Group("/dispatcher")
	disp.Use(rbac.RequireAnyRole(rbac.RoleOperator))
	{
		disp.POST("/run", h.RunDispatcher)
		disp.POST("/reconcile", h.ReconcileDispatcher)
	}
}
