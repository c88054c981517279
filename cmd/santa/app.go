package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/abdomilano6222222/tg-secret-santa-bot/internal/config"
	"github.com/abdomilano6222222/tg-secret-santa-bot/internal/db"
	"github.com/abdomilano6222222/tg-secret-santa-bot/internal/draft"
	"github.com/abdomilano6222222/tg-secret-santa-bot/internal/exchange"
	"github.com/abdomilano6222222/tg-secret-santa-bot/internal/registry"
	"github.com/abdomilano6222222/tg-secret-santa-bot/internal/santa"
	"github.com/abdomilano6222222/tg-secret-santa-bot/internal/telegraph"
	discordadapter "github.com/abdomilano6222222/tg-secret-santa-bot/internal/telegraph/discord"
	slackadapter "github.com/abdomilano6222222/tg-secret-santa-bot/internal/telegraph/slack"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

// app holds the components shared by the commands.
type app struct {
	cfg     *config.Config
	log     *slog.Logger
	reg     registry.Registry
	sqlDB   *gorm.DB
	closers []func() error
}

// loadApp reads the config named by the --config flag and builds the logger.
func loadApp(cmd *cobra.Command) (*app, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return &app{cfg: cfg, log: newLogger(cfg.Log, cmd.ErrOrStderr())}, nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Warn("close failed", "error", err)
		}
	}
	a.closers = nil
}

// database opens and migrates the SQL database. With a memory or redis
// registry it is a local SQLite file that only holds the identity directory.
func (a *app) database() (*gorm.DB, error) {
	if a.sqlDB != nil {
		return a.sqlDB, nil
	}
	driver, dsn := storageDSN(a.cfg.Storage)
	gdb, err := db.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	if sqlDB, err := gdb.DB(); err == nil {
		a.closers = append(a.closers, sqlDB.Close)
	}
	if err := db.AutoMigrate(gdb); err != nil {
		return nil, err
	}
	a.sqlDB = gdb
	return gdb, nil
}

// storageDSN resolves the SQL driver and DSN. A mysql driver without a dsn
// is assembled from the storage.mysql section.
func storageDSN(sc config.StorageConfig) (driver, dsn string) {
	switch sc.Driver {
	case db.DriverSQLite:
		return sc.Driver, sc.DSN
	case db.DriverMySQL:
		if sc.DSN != "" {
			return sc.Driver, sc.DSN
		}
		m := sc.MySQL
		return sc.Driver, db.MySQLDSN(m.User, m.Password, m.Host, m.Port, m.Database)
	default:
		return db.DriverSQLite, ""
	}
}

// openRegistry opens the configured session store.
func (a *app) openRegistry(ctx context.Context) (registry.Registry, error) {
	if a.reg != nil {
		return a.reg, nil
	}
	var reg registry.Registry
	switch a.cfg.Storage.Driver {
	case "memory":
		reg = registry.NewMemory()
	case "redis":
		rc := a.cfg.Storage.Redis
		client := redis.NewClient(&redis.Options{Addr: rc.Addr, Password: rc.Password, DB: rc.DB})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("connect to redis at %s: %w", rc.Addr, err)
		}
		r, err := registry.NewRedis(client)
		if err != nil {
			return nil, err
		}
		reg = r
	default:
		gdb, err := a.database()
		if err != nil {
			return nil, err
		}
		r, err := registry.NewSQL(gdb)
		if err != nil {
			return nil, err
		}
		reg = r
	}
	if a.cfg.Storage.Driver == "redis" {
		a.closers = append(a.closers, reg.Close)
	}
	a.reg = reg
	a.log.Info("registry ready", "driver", a.cfg.Storage.Driver)
	return reg, nil
}

// adapter builds the chat platform adapter.
func (a *app) adapter() (telegraph.Adapter, error) {
	switch a.cfg.Platform {
	case config.PlatformDiscord:
		return discordadapter.New(discordadapter.AdapterOpts{
			BotToken: a.cfg.Discord.BotToken,
			Logger:   a.log,
		})
	case config.PlatformSlack:
		return slackadapter.New(slackadapter.AdapterOpts{
			AppToken: a.cfg.Slack.AppToken,
			BotToken: a.cfg.Slack.BotToken,
			Logger:   a.log,
		})
	case "":
		return nil, fmt.Errorf("no platform configured (set platform to %q or %q)", config.PlatformDiscord, config.PlatformSlack)
	default:
		return nil, fmt.Errorf("unsupported platform %q", a.cfg.Platform)
	}
}

// directory maps platform identifiers to the numeric ids the registry keys
// on. Discord snowflakes are numeric already; Slack ids are stored.
func (a *app) directory() (telegraph.Directory, error) {
	if a.cfg.Platform != config.PlatformSlack {
		return telegraph.NumericDirectory{}, nil
	}
	gdb, err := a.database()
	if err != nil {
		return nil, err
	}
	return telegraph.NewGormDirectory(gdb, a.cfg.Platform)
}

type coordinatorDeps struct {
	messenger exchange.Messenger
	announcer exchange.Announcer
	onExpired func(ctx context.Context, s *santa.Session)
	dir       telegraph.Directory
}

func (a *app) coordinator(ctx context.Context, deps coordinatorDeps) (*exchange.Coordinator, error) {
	reg, err := a.openRegistry(ctx)
	if err != nil {
		return nil, err
	}
	matcher, err := draft.NewMatcher(a.cfg.Santa.MaxMatchAttempts, a.cfg.Santa.MaxInvalidPicks)
	if err != nil {
		return nil, err
	}
	opts := exchange.Options{
		Registry:  reg,
		Matcher:   matcher,
		Messenger: deps.messenger,
		Announcer: deps.announcer,
		Limits:    exchange.LimitsFromConfig(a.cfg.Santa),
		OnExpired: deps.onExpired,
		Logger:    a.log,
	}
	if deps.dir != nil && len(a.cfg.Admin.UserIDs) > 0 {
		dir := deps.dir
		opts.IsAdmin = func(ctx context.Context, _, userID int64) bool {
			ext, err := dir.External(ctx, userID)
			return err == nil && a.cfg.IsAdmin(ext)
		}
	}
	return exchange.New(opts)
}

// bot wires a bot and its coordinator around adapter.
func (a *app) bot(ctx context.Context, adapter telegraph.Adapter) (*telegraph.Bot, *exchange.Coordinator, error) {
	dir, err := a.directory()
	if err != nil {
		return nil, nil, err
	}
	bot, err := telegraph.NewBot(telegraph.BotOpts{
		Adapter:   adapter,
		Directory: dir,
		Logger:    a.log,
	})
	if err != nil {
		return nil, nil, err
	}
	coord, err := a.coordinator(ctx, coordinatorDeps{
		messenger: bot,
		announcer: bot,
		onExpired: bot.OnExpired,
		dir:       dir,
	})
	if err != nil {
		return nil, nil, err
	}
	bot.Bind(coord)
	return bot, coord, nil
}

var errOffline = errors.New("no chat platform connected")

// offline stands in for the bot in commands that never reach participants.
type offline struct{}

func (offline) Probe(context.Context, int64) (bool, error) { return false, errOffline }

func (offline) DeliverPrivate(context.Context, int64, exchange.Assignment) (string, error) {
	return "", errOffline
}

func (offline) Announce(context.Context, *santa.Session) (string, error) { return "", errOffline }

func (offline) Withdraw(context.Context, *santa.Session) error { return errOffline }
