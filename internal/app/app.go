package app

import (
	"time"

	"golang.org/x/oauth2"

	"bookingsync/internal/config"
)

// App wires the availability engine to its collaborators. Handlers are
// methods on *App.
type App struct {
	Store Store
	// Calendar is nil when no external calendar is configured.
	Calendar ExternalCalendar
	// OAuth is nil unless the OAuth connect flow is configured.
	OAuth *oauth2.Config

	Loc             *time.Location
	SlotLength      time.Duration
	DefaultDuration time.Duration
	Sync            SyncOptions

	// Now is overridable in tests.
	Now func() time.Time
}

type SyncOptions struct {
	LookbackDays int
	OwnerEmail   string
	OwnerName    string
	BeforeSlots  bool
}

// New builds an App from configuration. cal may be nil.
func New(cfg *config.Config, store Store, cal ExternalCalendar) *App {
	return &App{
		Store:           store,
		Calendar:        cal,
		OAuth:           NewOAuthConfig(cfg.Calendar),
		Loc:             cfg.Location(),
		SlotLength:      cfg.Booking.SlotLength(),
		DefaultDuration: cfg.Booking.DefaultDuration(),
		Sync: SyncOptions{
			LookbackDays: cfg.Sync.LookbackDays,
			OwnerEmail:   cfg.Sync.OwnerEmail,
			OwnerName:    cfg.Sync.OwnerName,
			BeforeSlots:  cfg.Sync.ReconcileBeforeSlots,
		},
		Now: time.Now,
	}
}

func (a *App) now() time.Time {
	if a.Now == nil {
		return time.Now().In(a.Loc)
	}
	return a.Now().In(a.Loc)
}
