package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"bookingsync/internal/app"
	"bookingsync/internal/config"
	appLog "bookingsync/internal/log"
	"bookingsync/internal/server"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to config file")
	memory := flag.Bool("memory", false, "Use the in-memory store instead of PostgreSQL")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", *configPath)
		os.Exit(1)
	}
	appLog.SetLevel(appLog.ParseLevel(cfg.Log.Level))

	appLog.Info("effective config",
		"listen", cfg.Listen,
		"timezone", cfg.Timezone,
		"calendar_enabled", cfg.Calendar.Enabled(),
		"calendar_id", cfg.Calendar.CalendarID,
		"sync_schedule", cfg.Sync.Schedule,
		"lookback_days", cfg.Sync.LookbackDays,
		"memory", *memory,
	)

	// Root context cancelled on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var store app.Store
	if *memory {
		store = app.NewMemStore()
	} else {
		if cfg.Database.URL == "" {
			appLog.Error("DATABASE_URL required", nil, "hint", "run with -memory for a throwaway store")
			os.Exit(1)
		}
		pg, err := app.NewPGStore(ctx, cfg.Database.URL, cfg.Database.MaxConns)
		if err != nil {
			appLog.Error("failed to connect to db", err)
			os.Exit(1)
		}
		defer pg.Close()
		if err := pg.Migrate(ctx); err != nil {
			appLog.Error("failed to migrate db", err)
			os.Exit(1)
		}
		store = pg
	}

	var cal app.ExternalCalendar
	gc, err := app.NewGoogleCalendar(ctx, cfg.Calendar, cfg.Location(), store)
	if err != nil {
		appLog.Error("failed to set up google calendar", err)
		os.Exit(1)
	}
	if gc != nil {
		cal = gc
	} else {
		appLog.Warn("no external calendar configured, availability uses local bookings only")
	}

	appInstance := app.New(cfg, store, cal)

	gin.SetMode(gin.ReleaseMode)
	router := appInstance.Router(app.AuthMiddleware(cfg.Auth))

	var loop *app.SyncLoop
	if cal != nil && cfg.Sync.Schedule != "" {
		loop, err = app.NewSyncLoop(appInstance, cfg.Sync.Schedule)
		if err != nil {
			appLog.Error("failed to set up sync loop", err)
			os.Exit(1)
		}
		if cfg.Sync.RunOnStart {
			go loop.RunOnce(ctx)
		}
		loop.Start()
	}

	if err := server.Run(ctx, cfg.Listen, router); err != nil {
		appLog.Error("http server failed", err)
	}

	if loop != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		loop.Stop(stopCtx)
		cancel()
	}
	appLog.Info("bookingsync exiting")
}
