package app

import (
	"errors"
	"io"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	appLog "bookingsync/internal/log"
)

var registerOnce sync.Once

var customValidations = map[string]validator.Func{
	"hhmm": func(fl validator.FieldLevel) bool {
		_, err := ParseTimeOfDay(fl.Field().String())
		return err == nil
	},
	"isodate": func(fl validator.FieldLevel) bool {
		_, err := ParseDate(fl.Field().String())
		return err == nil
	},
}

// RegisterValidators installs the hhmm and isodate binding tags on gin's
// validator and makes validation errors report JSON field names.
func RegisterValidators() {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			appLog.Warn("binding engine is not go-playground/validator; hhmm and isodate tags unavailable")
			return
		}
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
		registerValidations(v, customValidations)
	})
}

// registerValidations logs tags that fail to register; binding a struct that
// uses one would otherwise panic inside the validator with no context.
func registerValidations(v *validator.Validate, fns map[string]validator.Func) {
	for tag, fn := range fns {
		if err := v.RegisterValidation(tag, fn); err != nil {
			appLog.Error("failed to register validation", err, "tag", tag)
		}
	}
}

// Router builds the HTTP API. auth guards everything under /api; nil leaves
// it open.
func (a *App) Router(auth gin.HandlerFunc) *gin.Engine {
	RegisterValidators()

	router := gin.New()
	router.Use(gin.Recovery(), RequestLogger())

	router.GET("/healthz", a.HealthHandler)
	// OAuth2 callback (must be outside the auth group)
	router.GET("/oauth2callback", a.GoogleOAuth2CallbackHandler)

	api := router.Group("/api")
	if auth != nil {
		api.Use(auth)
	}
	{
		api.GET("/slots", a.GetSlotsHandler)
		api.GET("/schedule", a.GetScheduleHandler)
		api.POST("/schedule", a.SetScheduleHandler)

		appts := api.Group("/appointments")
		{
			appts.POST("", a.CreateAppointmentHandler)
			appts.GET("", a.ListAppointmentsHandler)
			appts.GET("/:id", a.GetAppointmentHandler)
			appts.PATCH("/:id", a.UpdateAppointmentHandler)
			appts.DELETE("/:id", a.DeleteAppointmentHandler)
			appts.POST("/:id/accept", a.AcceptAppointmentHandler)
			appts.POST("/:id/deny", a.DenyAppointmentHandler)
			appts.POST("/:id/complete", a.CompleteAppointmentHandler)
		}

		api.POST("/sync", a.SyncHandler)

		calendar := api.Group("/calendar")
		{
			calendar.GET("/auth", a.GoogleAuthHandler)
			calendar.GET("/events", a.GetGoogleCalendarEvents)
			calendar.GET("/calendars", a.GetGoogleCalendarList)
			calendar.GET("/feed.ics", a.FeedHandler)
		}
	}
	return router
}

// RequestLogger writes one log line per request.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := c.Writer.Status()
		kv := []any{
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", status,
			"duration", time.Since(start).String(),
		}
		if status >= http.StatusInternalServerError {
			appLog.Warn("request failed", kv...)
			return
		}
		appLog.Debug("request", kv...)
	}
}

// writeError maps domain errors to HTTP statuses.
func writeError(c *gin.Context, err error) {
	var (
		ve *ValidationError
		re *ReconcileError
	)
	switch {
	case errors.As(err, &ve):
		c.JSON(http.StatusBadRequest, gin.H{"error": ve.Error(), "field": ve.Field})
	case errors.As(err, &re):
		c.JSON(http.StatusInternalServerError, gin.H{"error": re.Error(), "run_id": re.RunID, "imported_count": 0})
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrDuplicate):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, ErrUpstreamUnavailable):
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	default:
		appLog.Error("request error", err, "path", c.FullPath())
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// writeBindError reports request decoding failures, naming the first
// offending field when the validator produced one.
func writeBindError(c *gin.Context, err error) {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "invalid " + fe.Field() + ": failed " + fe.Tag(),
			"field": fe.Field(),
		})
		return
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

// bindOptionalJSON accepts an empty body.
func bindOptionalJSON(c *gin.Context, obj any) error {
	err := c.ShouldBindJSON(obj)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func parseID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id", "field": "id"})
		return 0, false
	}
	return id, true
}

// GET /healthz
func (a *App) HealthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"ok":       true,
		"calendar": a.Calendar != nil,
	})
}

// GET /api/slots?date=YYYY-MM-DD
func (a *App) GetSlotsHandler(c *gin.Context) {
	dateStr := c.Query("date")
	if dateStr == "" {
		writeError(c, invalid("date", "required (YYYY-MM-DD)"))
		return
	}
	date, err := ParseDate(dateStr)
	if err != nil {
		writeError(c, invalid("date", "want YYYY-MM-DD, got %q", dateStr))
		return
	}
	res, err := a.AvailableSlots(c.Request.Context(), date)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// GET /api/schedule
func (a *App) GetScheduleHandler(c *gin.Context) {
	s, err := a.GetSchedule(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

type setScheduleReq struct {
	Hours ScheduleUpdate `json:"hours" binding:"required"`
}

// POST /api/schedule
// Only the weekdays present in the body change; null closes a day.
func (a *App) SetScheduleHandler(c *gin.Context) {
	var req setScheduleReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}
	s, err := a.SetSchedule(c.Request.Context(), req.Hours)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

// POST /api/appointments
func (a *App) CreateAppointmentHandler(c *gin.Context) {
	var req CreateAppointmentInput
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}
	res, err := a.CreateAppointment(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

// GET /api/appointments?status=accepted,completed&date=YYYY-MM-DD
func (a *App) ListAppointmentsHandler(c *gin.Context) {
	var f AppointmentFilter
	if s := c.Query("date"); s != "" {
		d, err := ParseDate(s)
		if err != nil {
			writeError(c, invalid("date", "want YYYY-MM-DD, got %q", s))
			return
		}
		f.Date = &d
	}
	for _, v := range c.QueryArray("status") {
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				f.Statuses = append(f.Statuses, s)
			}
		}
	}
	out, err := a.ListAppointments(c.Request.Context(), f)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// GET /api/appointments/:id
func (a *App) GetAppointmentHandler(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	ap, err := a.Store.GetAppointment(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ap)
}

// PATCH /api/appointments/:id
func (a *App) UpdateAppointmentHandler(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req AppointmentPatch
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}
	ap, err := a.UpdateAppointment(c.Request.Context(), id, req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ap)
}

// DELETE /api/appointments/:id
func (a *App) DeleteAppointmentHandler(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if err := a.DeleteAppointment(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

type acceptReq struct {
	Location *string `json:"location"`
}

// POST /api/appointments/:id/accept
func (a *App) AcceptAppointmentHandler(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req acceptReq
	if err := bindOptionalJSON(c, &req); err != nil {
		writeBindError(c, err)
		return
	}
	res, err := a.AcceptAppointment(c.Request.Context(), id, req.Location)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type denyReq struct {
	Notes *string `json:"notes"`
}

// POST /api/appointments/:id/deny
func (a *App) DenyAppointmentHandler(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req denyReq
	if err := bindOptionalJSON(c, &req); err != nil {
		writeBindError(c, err)
		return
	}
	ap, err := a.DenyAppointment(c.Request.Context(), id, req.Notes)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ap)
}

type completeReq struct {
	JournalID *int64 `json:"journal_id"`
	FinanceID *int64 `json:"finance_id"`
}

// POST /api/appointments/:id/complete
func (a *App) CompleteAppointmentHandler(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req completeReq
	if err := bindOptionalJSON(c, &req); err != nil {
		writeBindError(c, err)
		return
	}
	ap, err := a.CompleteAppointment(c.Request.Context(), id, req.JournalID, req.FinanceID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ap)
}

// POST /api/sync
func (a *App) SyncHandler(c *gin.Context) {
	res, err := a.Reconcile(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
