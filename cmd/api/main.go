package main

import (
	"context"
	"errors"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/blessing-molokwu/chatademy-sub000/db"
	"github.com/blessing-molokwu/chatademy-sub000/internal/app"
	"github.com/blessing-molokwu/chatademy-sub000/internal/config"
	"github.com/blessing-molokwu/chatademy-sub000/internal/email"
	"github.com/blessing-molokwu/chatademy-sub000/internal/export"
	"github.com/blessing-molokwu/chatademy-sub000/internal/files"
	"github.com/blessing-molokwu/chatademy-sub000/internal/gitrepo"
	"github.com/blessing-molokwu/chatademy-sub000/internal/logging"
	"github.com/blessing-molokwu/chatademy-sub000/internal/notify"
	"github.com/blessing-molokwu/chatademy-sub000/internal/ratelimit"
	"github.com/blessing-molokwu/chatademy-sub000/internal/search"
	"github.com/blessing-molokwu/chatademy-sub000/internal/session"
	"github.com/blessing-molokwu/chatademy-sub000/internal/store"
	"github.com/sirupsen/logrus"
)

func main() {
	cfg := loadConfig()
	log := logging.New(cfg.LogLevel, cfg.LogFormat)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sqlDB, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.WithError(err).Fatal("database connection failed")
	}
	defer sqlDB.Close()

	migrations, dir := migrationSource(cfg.MigrationsDir)
	applied, err := store.ApplyMigrations(ctx, sqlDB, migrations, dir)
	if err != nil {
		log.WithError(err).Fatal("migrations failed")
	}
	if len(applied) > 0 {
		log.WithField("versions", applied).Info("applied migrations")
	}

	dataStore := store.NewPostgresStore(sqlDB)
	deps := app.Deps{
		Store:  dataStore,
		Log:    log,
		Checks: map[string]app.Check{},
	}

	if strings.TrimSpace(cfg.RedisURL) != "" {
		client, err := session.Connect(ctx, cfg.RedisURL)
		if err != nil {
			log.WithError(err).Fatal("redis connection failed")
		}
		defer client.Close()
		sessions := session.NewRedisStoreWithClient(client)
		deps.Sessions = sessions
		deps.Limiter = ratelimit.NewRedisLimiter(client, ratelimit.Window{Limit: cfg.AuthRateLimit, Period: cfg.AuthRateWindow})
		deps.Notify = notify.NewRedisStore(client, notify.Options{})
		deps.Checks["redis"] = sessions.Ping
		log.Info("using redis for sessions, rate limits and notifications")
	} else {
		limiter := ratelimit.NewMemoryLimiter(ratelimit.Window{Limit: cfg.AuthRateLimit, Period: cfg.AuthRateWindow})
		go limiter.RunSweeper(ctx, time.Minute)
		deps.Limiter = limiter
		deps.Notify = notify.NewMemoryStore(notify.Options{})
		log.Info("using postgres sessions and in-process rate limits")
	}

	backend, err := storageBackend(ctx, cfg)
	if err != nil {
		log.WithError(err).Fatal("file storage unavailable")
	}
	deps.Files = files.NewStore(backend, cfg.MaxUploadBytes)

	if err := os.MkdirAll(cfg.HistoryDir, 0o755); err != nil {
		log.WithError(err).Fatal("create history dir")
	}
	deps.History = gitrepo.New(cfg.HistoryDir)

	var meili *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meili = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, log)
		defer meili.Close()
	}
	deps.Search = search.NewService(meili, search.NewPgFTS(sqlDB), log)
	go deps.Search.ReindexAllFromPG(ctx)

	deps.Export = export.NewService(dataStore)
	deps.Mailer = email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})

	service := app.New(cfg, deps)
	if !service.SMTPConfigured() {
		log.Warn("SMTP not configured; verification and reset tokens are returned in responses")
	}

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           app.NewHTTPServer(service, cfg.CORSOrigin).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.WithFields(logrus.Fields{"addr": cfg.Addr, "search": service.SearchEngine()}).Info("research hub api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("server failed")
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("shutdown error")
	}
}

func loadConfig() config.Config {
	path := strings.TrimSpace(os.Getenv("RESEARCHHUB_CONFIG"))
	if path == "" {
		return config.Load()
	}
	cfg, err := config.LoadFile(path)
	if err != nil {
		logrus.WithError(err).Fatal("load config")
	}
	return cfg
}

// migrationSource prefers a migrations directory on disk and falls back to
// the copy embedded in the binary.
func migrationSource(dir string) (fs.FS, string) {
	if info, err := os.Stat(dir); err == nil && info.IsDir() {
		return os.DirFS(dir), "."
	}
	return db.Migrations, "migrations"
}

func storageBackend(ctx context.Context, cfg config.Config) (files.Backend, error) {
	if strings.EqualFold(cfg.StorageBackend, "minio") {
		return files.NewMinioBackend(ctx, files.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
	}
	return files.NewLocalBackend(cfg.UploadDir)
}
