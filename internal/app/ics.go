package app

import (
	"context"
	"net/http"
	"strconv"

	ical "github.com/arran4/golang-ical"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const feedProductID = "-//bookingsync//appointments//EN"

// feedNamespace scopes the stable UIDs of exported appointments.
var feedNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("bookingsync:appointments"))

// FeedUID is the iCalendar UID of an exported appointment. It depends only
// on the appointment id so subscribers see updates rather than duplicates.
func FeedUID(id int64) string {
	return uuid.NewSHA1(feedNamespace, []byte(strconv.FormatInt(id, 10))).String()
}

// BuildFeed renders busy appointments from the look-back window onward as an
// iCalendar document.
func (a *App) BuildFeed(ctx context.Context) (*ical.Calendar, error) {
	appts, err := a.ListAppointments(ctx, AppointmentFilter{
		Statuses: []string{StatusAccepted, StatusCompleted},
	})
	if err != nil {
		return nil, err
	}
	from := DateOf(a.now()).AddDays(-a.Sync.LookbackDays)

	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(feedProductID)
	cal.SetName("Appointments")

	for _, ap := range appts {
		if ap.Date.Before(from) {
			continue
		}
		ev := cal.AddEvent(FeedUID(ap.ID))
		ev.SetCreatedTime(ap.CreatedAt)
		ev.SetDtStampTime(ap.UpdatedAt)
		ev.SetModifiedAt(ap.UpdatedAt)
		ev.SetSummary(ap.Service)
		if ap.Location != "" {
			ev.SetLocation(ap.Location)
		}
		if ap.Notes != "" {
			ev.SetDescription(ap.Notes)
		}
		ev.SetStatus(ical.ObjectStatusConfirmed)
		if ap.AllDay() {
			ev.SetAllDayStartAt(ap.Date.In(a.Loc))
			ev.SetAllDayEndAt(ap.Date.AddDays(1).In(a.Loc))
			continue
		}
		start := ap.Time.On(ap.Date, a.Loc)
		ev.SetStartAt(start)
		ev.SetEndAt(start.Add(a.DefaultDuration))
	}
	return cal, nil
}

// GET /api/calendar/feed.ics
func (a *App) FeedHandler(c *gin.Context) {
	cal, err := a.BuildFeed(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.Header("Content-Disposition", `inline; filename="appointments.ics"`)
	c.Data(http.StatusOK, "text/calendar; charset=utf-8", []byte(cal.Serialize()))
}
