package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"autoaccess.org/internal/audit"
	"autoaccess.org/internal/config"
	"autoaccess.org/internal/directory"
	"autoaccess.org/internal/httpapi"
	"autoaccess.org/internal/notify"
	"autoaccess.org/internal/obs"
	"autoaccess.org/internal/otp"
	"autoaccess.org/internal/provision"
	"autoaccess.org/internal/roles"
	"autoaccess.org/internal/session"
	"autoaccess.org/internal/store/pg"
)

var (
	version = "0.3.0"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// A malformed role matrix is startup-fatal; it must never surface as
	// a request-time error.
	matrix := roles.Default()
	if cfg.RoleMatrixPath != "" {
		matrix, err = roles.Load(cfg.RoleMatrixPath)
		if err != nil {
			log.Fatalf("role matrix: %v", err)
		}
	}

	var (
		store    directory.Store
		rec      audit.Recorder = audit.LogRecorder{}
		pgStore  *pg.Store
		readyDep httpapi.ReadyProbe
	)
	if cfg.PGDSN != "" {
		pgStore, err = pg.Open(cfg.PGDSN)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		store = pgStore
		rec = pgStore
		readyDep = httpapi.ReadyProbe{DB: pgStore.DB()}
	} else {
		log.Printf("no AUTOACCESS_PG_DSN set, using in-memory directory")
		store = directory.NewInMemory()
	}

	var sender notify.Sender
	if cfg.UseSMTP() {
		sender, err = notify.NewSMTPSender(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword, cfg.EmailFrom)
		if err != nil {
			log.Fatalf("smtp sender: %v", err)
		}
	} else {
		sender = notify.NewLogSender(cfg.EmailLogPath, cfg.EmailFrom)
	}

	pipeline, err := provision.NewPipeline(store, matrix, sender, rec,
		provision.WithSummaryRecipients(cfg.HRSummaryEmail, cfg.ITSummaryEmail),
		provision.WithAdminEmail(cfg.AdminEmail),
	)
	if err != nil {
		log.Fatalf("pipeline: %v", err)
	}

	var sessions *session.Manager
	if cfg.SessionSecret != "" {
		sessions, err = session.NewManager(cfg.SessionSecret, cfg.SessionTTL)
		if err != nil {
			log.Fatalf("sessions: %v", err)
		}
	} else {
		log.Printf("no AUTOACCESS_SESSION_SECRET set, employee login disabled")
	}

	authn := otp.New(store, sender, rec, otp.WithTTL(cfg.OTPTTL))

	api := httpapi.New(readyDep, version, httpapi.Deps{
		Pipeline: pipeline,
		Store:    store,
		Matrix:   matrix,
		OTP:      authn,
		Sessions: sessions,
		Recorder: rec,
		APIKey:   cfg.APIKey,
	})
	api.SetRateLimit(cfg.RateBurst, cfg.RatePerSec)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting autoaccess-api %s on %s", version, srv.Addr)

	// graceful shutdown
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	if pgStore != nil {
		_ = pgStore.Close()
	}
	log.Println("Stopped")
}
