package main

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-logger/glog"
	"github.com/secureapp/go-identity"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

type loggerProvider struct {
	base *glog.BaseLogger
}

func (p loggerProvider) GetLogger(name string) identity.Logger {
	return p.base.GetLogger(name)
}

func main() {
	lgr := glog.NewLogger(
		glog.WithLoggerTypePretty(),
		glog.WithLevel(glog.Debug),
		glog.WithName("app"),
		glog.WithAddSource(false),
		glog.WithRichErrorHandler(errors.ToSlogAttributes),
	)

	if err := run(lgr); err != nil {
		lgr.GetLogger("main").Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(lgr *glog.BaseLogger) error {
	cfg, err := identity.LoadConfig()
	if err != nil {
		return err
	}

	logs := loggerProvider{base: lgr}

	db, err := openDatabase(cfg.DatabaseDSN)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx := context.Background()
	if err := runMigrations(ctx, db, logs.GetLogger("migrations")); err != nil {
		return err
	}

	repo := identity.NewRepositoryManager(db)
	if err := repo.Validate(); err != nil {
		return err
	}

	tokens := identity.NewTokenService(cfg, logs.GetLogger("tokens"))

	mailer, err := identity.NewSMTPMailer(cfg)
	if err != nil {
		return err
	}
	mailer.WithLogger(logs.GetLogger("mailer"))

	activity := identity.NewLoginActivityTracker(repo, mailer).
		WithLogger(logs.GetLogger("activity"))

	verifier := identity.NewVerificationManager(repo, tokens, mailer).
		WithLogger(logs.GetLogger("verify"))

	sessions := identity.NewSessionManager(repo, tokens, mailer).
		WithActivityTracker(activity).
		WithLogger(logs.GetLogger("sessions"))

	resets := identity.NewPasswordResetManager(repo, mailer).
		WithLogger(logs.GetLogger("resets"))

	app := fiber.New(fiber.Config{
		AppName:      "go-identity",
		ErrorHandler: identity.NewErrorHandler(logs.GetLogger("http")),
	})

	controller := identity.NewAuthController(
		identity.WithControllerLogger(logs.GetLogger("auth:ctrl")),
		identity.WithControllerDebug(cfg.Debug),
		identity.WithControllerServices(verifier, sessions, resets),
		identity.WithControllerActivity(activity),
		identity.WithControllerNotifications(repo.Notifications()),
		identity.WithControllerTokens(tokens),
		identity.WithControllerCookies(identity.CookieOptions{
			Domain: cfg.CookieDomain,
			MaxAge: cfg.RefreshTTL,
		}),
	)

	identity.RegisterAuthRoutes(app, controller)

	go func() {
		addr := fmt.Sprintf(":%d", cfg.ServerPort)
		if err := app.Listen(addr); err != nil {
			lgr.GetLogger("http").Error("server stopped", "error", err)
		}
	}()

	waitExitSignal()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return app.ShutdownWithContext(shutdownCtx)
}

func openDatabase(dsn string) (*bun.DB, error) {
	sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to open database")
	}

	return bun.NewDB(sqldb, sqlitedialect.New()), nil
}

// runMigrations applies the embedded schema files in lexical order
func runMigrations(ctx context.Context, db *bun.DB, logger identity.Logger) error {
	root := "data/sql/migrations"

	var files []string
	err := fs.WalkDir(identity.GetMigrationsFS(), root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(path, ".up.sql") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "failed to walk migrations")
	}

	sort.Strings(files)

	for _, file := range files {
		contents, err := fs.ReadFile(identity.GetMigrationsFS(), file)
		if err != nil {
			return errors.Wrap(err, errors.CategoryInternal, "failed to read migration").
				WithMetadata(map[string]any{"file": file})
		}

		if _, err := db.ExecContext(ctx, string(contents)); err != nil {
			return errors.Wrap(err, errors.CategoryInternal, "failed to apply migration").
				WithMetadata(map[string]any{"file": file})
		}

		logger.Debug("applied migration", "file", file)
	}

	return nil
}

func waitExitSignal() os.Signal {
	ch := make(chan os.Signal, 3)
	signal.Notify(ch,
		syscall.SIGINT,
		syscall.SIGQUIT,
		syscall.SIGTERM,
	)
	return <-ch
}
