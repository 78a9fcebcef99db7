package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"bookingsync/internal/config"
	appLog "bookingsync/internal/log"
)

// errNotConnected is returned in OAuth mode before the connect flow has
// stored a token.
var errNotConnected = errors.New("google calendar not connected; visit /api/calendar/auth")

// oauthStateTTL bounds how long a connect flow may take between
// /api/calendar/auth and the callback.
const oauthStateTTL = 10 * time.Minute

// CalendarInfo describes one calendar visible to the configured account.
type CalendarInfo struct {
	ID          string `json:"id"`
	Summary     string `json:"summary"`
	Description string `json:"description,omitempty"`
	Primary     bool   `json:"primary"`
	AccessRole  string `json:"access_role"`
}

// CalendarLister is implemented by calendars that can enumerate the
// calendars of their account.
type CalendarLister interface {
	ListCalendars(ctx context.Context) ([]CalendarInfo, error)
}

// NewOAuthConfig returns the OAuth2 client configuration for the connect
// flow, or nil when the client settings are incomplete.
func NewOAuthConfig(cfg config.CalendarConfig) *oauth2.Config {
	if !cfg.OAuthEnabled() {
		return nil
	}
	return &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		Scopes: []string{
			calendar.CalendarScope,
		},
		Endpoint: google.Endpoint,
	}
}

// GoogleCalendar is the ExternalCalendar backed by the Google Calendar API.
// It authenticates with a service account key when one is configured and
// otherwise with the OAuth token saved by the connect flow.
type GoogleCalendar struct {
	calendarID string
	timeout    time.Duration
	loc        *time.Location

	// service account mode
	srv *calendar.Service

	// OAuth mode
	oauth  *oauth2.Config
	tokens Store
}

// NewGoogleCalendar returns nil, nil when no credentials are configured.
func NewGoogleCalendar(ctx context.Context, cfg config.CalendarConfig, loc *time.Location, tokens Store) (*GoogleCalendar, error) {
	if !cfg.Enabled() {
		return nil, nil
	}
	g := &GoogleCalendar{
		calendarID: cfg.CalendarID,
		timeout:    cfg.Timeout,
		loc:        loc,
	}
	if cfg.CredentialsFile != "" {
		srv, err := calendar.NewService(ctx,
			option.WithCredentialsFile(cfg.CredentialsFile),
			option.WithScopes(calendar.CalendarScope),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create calendar service: %w", err)
		}
		g.srv = srv
		appLog.Info("google calendar enabled", "mode", "service_account", "calendar_id", cfg.CalendarID)
		return g, nil
	}
	g.oauth = NewOAuthConfig(cfg)
	g.tokens = tokens
	appLog.Info("google calendar enabled", "mode", "oauth", "calendar_id", cfg.CalendarID)
	return g, nil
}

func (g *GoogleCalendar) service(ctx context.Context) (*calendar.Service, error) {
	if g.srv != nil {
		return g.srv, nil
	}
	tok, err := g.tokens.LoadCalendarToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load calendar token: %w", err)
	}
	if tok == nil {
		return nil, errNotConnected
	}
	srv, err := calendar.NewService(ctx, option.WithHTTPClient(g.oauth.Client(ctx, tok)))
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar service: %w", err)
	}
	return srv, nil
}

func (g *GoogleCalendar) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, g.timeout)
}

// ListEvents expands recurring events into single instances and follows
// pagination until the range is exhausted.
func (g *GoogleCalendar) ListEvents(ctx context.Context, timeMin, timeMax time.Time) ([]ExternalEvent, error) {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	srv, err := g.service(ctx)
	if err != nil {
		return nil, err
	}

	call := srv.Events.List(g.calendarID).
		SingleEvents(true).
		OrderBy("startTime").
		MaxResults(250).
		TimeMin(timeMin.Format(time.RFC3339))
	if !timeMax.IsZero() {
		call = call.TimeMax(timeMax.Format(time.RFC3339))
	}

	var out []ExternalEvent
	err = call.Pages(ctx, func(page *calendar.Events) error {
		for _, item := range page.Items {
			ev, ok := fromGoogleEvent(item)
			if !ok {
				continue
			}
			out = append(out, ev)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve events: %w", err)
	}
	return out, nil
}

// fromGoogleEvent maps an API event. Cancelled and unparseable events are
// dropped.
func fromGoogleEvent(item *calendar.Event) (ExternalEvent, bool) {
	if item == nil || item.Status == "cancelled" || item.Start == nil {
		return ExternalEvent{}, false
	}
	ev := ExternalEvent{
		ID:          item.Id,
		Summary:     item.Summary,
		Description: item.Description,
		Location:    item.Location,
	}

	if item.Start.DateTime != "" {
		start, err := time.Parse(time.RFC3339, item.Start.DateTime)
		if err != nil {
			return ExternalEvent{}, false
		}
		ev.Start = start
		ev.End = start
		if item.End != nil && item.End.DateTime != "" {
			if end, err := time.Parse(time.RFC3339, item.End.DateTime); err == nil {
				ev.End = end
			}
		}
		return ev, true
	}

	start, err := ParseDate(item.Start.Date)
	if err != nil {
		return ExternalEvent{}, false
	}
	ev.AllDay = true
	ev.StartDate = start
	ev.EndDate = start.AddDays(1)
	if item.End != nil && item.End.Date != "" {
		if end, err := ParseDate(item.End.Date); err == nil {
			ev.EndDate = end
		}
	}
	return ev, true
}

func (g *GoogleCalendar) InsertEvent(ctx context.Context, ev ExternalEvent) (string, error) {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	srv, err := g.service(ctx)
	if err != nil {
		return "", err
	}
	created, err := srv.Events.Insert(g.calendarID, g.toGoogleEvent(ev)).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("failed to insert event: %w", err)
	}
	return created.Id, nil
}

func (g *GoogleCalendar) toGoogleEvent(ev ExternalEvent) *calendar.Event {
	out := &calendar.Event{
		Summary:     ev.Summary,
		Description: ev.Description,
		Location:    ev.Location,
	}
	if ev.AllDay {
		out.Start = &calendar.EventDateTime{Date: ev.StartDate.String()}
		out.End = &calendar.EventDateTime{Date: ev.EndDate.String()}
		return out
	}
	tz := ""
	if g.loc != nil {
		tz = g.loc.String()
	}
	out.Start = &calendar.EventDateTime{DateTime: ev.Start.Format(time.RFC3339), TimeZone: tz}
	out.End = &calendar.EventDateTime{DateTime: ev.End.Format(time.RFC3339), TimeZone: tz}
	return out
}

func (g *GoogleCalendar) ListCalendars(ctx context.Context) ([]CalendarInfo, error) {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	srv, err := g.service(ctx)
	if err != nil {
		return nil, err
	}
	list, err := srv.CalendarList.List().Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve calendars: %w", err)
	}
	out := make([]CalendarInfo, 0, len(list.Items))
	for _, item := range list.Items {
		out = append(out, CalendarInfo{
			ID:          item.Id,
			Summary:     item.Summary,
			Description: item.Description,
			Primary:     item.Primary,
			AccessRole:  item.AccessRole,
		})
	}
	return out, nil
}

// GET /api/calendar/auth
func (a *App) GoogleAuthHandler(c *gin.Context) {
	if a.OAuth == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Google Calendar OAuth not configured"})
		return
	}
	state := uuid.NewString()
	if err := a.Store.SaveOAuthState(c.Request.Context(), state, a.now().Add(oauthStateTTL)); err != nil {
		writeError(c, fmt.Errorf("failed to save oauth state: %w", err))
		return
	}
	url := a.OAuth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
	c.JSON(http.StatusOK, gin.H{
		"auth_url": url,
		"state":    state,
	})
}

// GET /oauth2callback
// The route is public, so only a state issued by /api/calendar/auth lets a
// code through. The token is stored server-side and never returned.
func (a *App) GoogleOAuth2CallbackHandler(c *gin.Context) {
	if a.OAuth == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Google Calendar OAuth not configured"})
		return
	}
	code := c.Query("code")
	if code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "authorization code required"})
		return
	}
	ctx := c.Request.Context()
	state := c.Query("state")
	if state == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "state required"})
		return
	}
	ok, err := a.Store.ConsumeOAuthState(ctx, state, a.now())
	if err != nil {
		writeError(c, fmt.Errorf("failed to check oauth state: %w", err))
		return
	}
	if !ok {
		appLog.Warn("oauth callback with unknown or expired state", "client_ip", c.ClientIP())
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid or expired state"})
		return
	}
	token, err := a.OAuth.Exchange(ctx, code)
	if err != nil {
		appLog.Error("oauth code exchange failed", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to exchange code for token"})
		return
	}
	if err := a.Store.SaveCalendarToken(ctx, token); err != nil {
		writeError(c, fmt.Errorf("failed to save calendar token: %w", err))
		return
	}
	appLog.Info("google calendar connected", "expiry", token.Expiry)
	c.JSON(http.StatusOK, gin.H{"message": "Authorization successful"})
}

// GET /api/calendar/events?time_min=RFC3339&time_max=RFC3339
// time_min defaults to the start of today; a missing time_max is unbounded.
func (a *App) GetGoogleCalendarEvents(c *gin.Context) {
	if a.Calendar == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Google Calendar not configured"})
		return
	}
	timeMin := DateOf(a.now()).In(a.Loc)
	if s := c.Query("time_min"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			writeError(c, invalid("time_min", "want RFC3339, got %q", s))
			return
		}
		timeMin = t
	}
	var timeMax time.Time
	if s := c.Query("time_max"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			writeError(c, invalid("time_max", "want RFC3339, got %q", s))
			return
		}
		timeMax = t
	}

	events, err := a.Calendar.ListEvents(c.Request.Context(), timeMin, timeMax)
	if err != nil {
		writeError(c, upstream("list calendar events", err))
		return
	}
	if events == nil {
		events = []ExternalEvent{}
	}
	c.JSON(http.StatusOK, gin.H{
		"events": events,
		"count":  len(events),
	})
}

// GET /api/calendar/calendars
func (a *App) GetGoogleCalendarList(c *gin.Context) {
	lister, ok := a.Calendar.(CalendarLister)
	if !ok {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Google Calendar not configured"})
		return
	}
	calendars, err := lister.ListCalendars(c.Request.Context())
	if err != nil {
		writeError(c, upstream("list calendars", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"calendars": calendars,
		"count":     len(calendars),
	})
}
