package database

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alex65536/bracketd/internal/match"
	"github.com/alex65536/bracketd/internal/tournament"
	"github.com/alex65536/bracketd/internal/util/slogx"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Options struct {
	Driver        string        `toml:"driver"`
	Path          string        `toml:"path"`
	DSN           string        `toml:"dsn"`
	Debug         bool          `toml:"debug"`
	SlowThreshold time.Duration `toml:"slow-threshold"`
	BusyTimeout   time.Duration `toml:"busy-timeout"`
	UseWAL        bool          `toml:"use-wal"`
	MaxOpenConns  int           `toml:"max-open-conns"`
}

func (o *Options) FillDefaults() {
	if o.Driver == "" {
		o.Driver = DriverSQLite
	}
	if o.SlowThreshold == 0 {
		o.SlowThreshold = 200 * time.Millisecond
	}
	if o.BusyTimeout == 0 {
		o.BusyTimeout = 1 * time.Minute
	}
	if o.MaxOpenConns == 0 && o.Driver == DriverPostgres {
		o.MaxOpenConns = 16
	}
}

func (o *Options) Validate() error {
	switch o.Driver {
	case DriverSQLite:
		if o.Path == "" {
			return fmt.Errorf("no sqlite path")
		}
	case DriverPostgres:
		if o.DSN == "" {
			return fmt.Errorf("no postgres dsn")
		}
	default:
		return fmt.Errorf("unknown driver %q", o.Driver)
	}
	if o.MaxOpenConns < 0 {
		return fmt.Errorf("negative max open conns")
	}
	return nil
}

type DB struct {
	db  *gorm.DB
	log *slog.Logger
}

func (d *DB) Close() {
	db, err := d.db.DB()
	if err != nil {
		d.log.Error("could not get underlying db", slogx.Err(err))
		return
	}
	err = db.Close()
	if err != nil {
		d.log.Error("could not close db", slogx.Err(err))
	}
}

func buildPath(o Options) string {
	var params []string
	if o.UseWAL {
		params = append(params, "_journal_mode=WAL")
		params = append(params, "_synchronous=NORMAL")
	}
	params = append(params, fmt.Sprintf("_busy_timeout=%v", o.BusyTimeout.Milliseconds()))
	params = append(params, "_foreign_keys=1")
	paramStr := strings.Join(params, "&")
	if paramStr == "" {
		return o.Path
	}
	return o.Path + "?" + paramStr
}

func dialector(o Options) gorm.Dialector {
	if o.Driver == DriverPostgres {
		return postgres.Open(o.DSN)
	}
	return sqlite.Open(buildPath(o))
}

var models = []any{
	&tournament.Tournament{},
	&match.Player{},
	&match.Match{},
	&match.MatchPlayer{},
	&match.Report{},
	&match.AuditRecord{},
}

func New(log *slog.Logger, o Options) (*DB, error) {
	o.FillDefaults()
	if err := o.Validate(); err != nil {
		return nil, fmt.Errorf("bad options: %w", err)
	}

	log.Info("opening db", slog.String("driver", o.Driver))
	db, err := gorm.Open(dialector(o), &gorm.Config{
		Logger: Logger(log, o),
	})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	d := &DB{db: db, log: log}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get underlying db: %w", err)
	}
	if o.Driver == DriverSQLite {
		// SQLite has a single writer, so transactions share one connection.
		sqlDB.SetMaxOpenConns(1)
	} else if o.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(o.MaxOpenConns)
	}

	log.Info("migrating db")
	if err := db.AutoMigrate(models...); err != nil {
		d.Close()
		return nil, fmt.Errorf("migrate db: %w", err)
	}

	log.Info("db opened")
	return d, nil
}
