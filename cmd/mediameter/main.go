package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/betzim/mediameter/internal/app"
	"github.com/betzim/mediameter/internal/config"
	"github.com/betzim/mediameter/internal/security"

	log "github.com/sirupsen/logrus"
)

// main runs the CLI entrypoint and exits on unrecoverable command errors.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if errRun := run(ctx, os.Args[1:]); errRun != nil {
		log.WithError(errRun).Error("command failed")
		stop()
		os.Exit(1)
	}
}

// run parses flags, loads config, and starts the requested command.
func run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("mediameter", flag.ContinueOnError)
	cfgPath := fs.String("config", "", "config file path (or env CONFIG_PATH)")
	port := fs.Int("port", 0, "server port, overrides the config file")
	initDSN := fs.String("init", "", "write a starter config using this DSN (\"sqlite\" for the bundled database) and exit")
	migrateOnly := fs.Bool("migrate", false, "run database migrations and exit")
	tokenSubject := fs.String("issue-admin-token", "", "print an admin bearer token for the given subject and exit")
	if errParse := fs.Parse(args); errParse != nil {
		return errParse
	}

	if *port != 0 {
		if errValidate := validatePort(*port); errValidate != nil {
			return errValidate
		}
	}

	appCfg, err := config.LoadFromEnv()
	if err != nil {
		return err
	}
	if strings.TrimSpace(*cfgPath) != "" {
		appCfg.ConfigPath = *cfgPath
	}
	configPath := config.ResolveConfigPath(appCfg.ConfigPath)

	if dsn := strings.TrimSpace(*initDSN); dsn != "" {
		if app.ConfigExists(configPath) {
			return fmt.Errorf("config already exists at %s", configPath)
		}
		if dsn == "sqlite" {
			dsn = ""
		}
		initPort := *port
		if initPort == 0 {
			initPort = 3000
		}
		if errWrite := app.WriteConfigFile(configPath, dsn, initPort); errWrite != nil {
			return errWrite
		}
		log.Infof("starter config written to %s", configPath)
		return nil
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if *port != 0 {
		cfg.Port = *port
	}
	if errLogging := app.ConfigureLogging(cfg.Logging, cfg.Debug); errLogging != nil {
		return errLogging
	}

	switch {
	case strings.TrimSpace(*tokenSubject) != "":
		token, expiresAt, errIssue := security.IssueAdminToken(cfg.JWT.Secret, strings.TrimSpace(*tokenSubject), cfg.JWT.Expiry, time.Now())
		if errIssue != nil {
			return errIssue
		}
		fmt.Println(token)
		log.Infof("token expires at %s", expiresAt.Format(time.RFC3339))
		return nil
	case *migrateOnly:
		if errMigrate := app.Migrate(ctx, cfg); errMigrate != nil {
			return errMigrate
		}
		log.Info("migrations applied")
		return nil
	}

	if !app.ConfigExists(configPath) {
		log.Warnf("config file %s not found, running from environment and defaults", configPath)
	}
	return app.RunServer(ctx, cfg)
}

func validatePort(port int) error {
	if port <= 0 || port > 65535 {
		return fmt.Errorf("invalid port: %d", port)
	}
	return nil
}
