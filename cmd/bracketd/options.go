package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/alex65536/bracketd/internal/cache"
	"github.com/alex65536/bracketd/internal/database"
	"github.com/alex65536/bracketd/internal/feed"
	"github.com/alex65536/bracketd/internal/httpapi"
	"github.com/alex65536/bracketd/internal/mirror"
	"github.com/alex65536/bracketd/internal/poll"
	"github.com/alex65536/bracketd/internal/startgg"
	"github.com/alex65536/bracketd/internal/util/idgen"
	"github.com/alex65536/bracketd/internal/util/slogx"
	petname "github.com/dustinkirkland/golang-petname"
	"github.com/joho/godotenv"
)

type HTTPSOptions struct {
	Addr                 string   `toml:"addr"`
	CachePath            string   `toml:"cache-path"`
	AllowedSecureDomains []string `toml:"allowed-secure-domains"`
	ExposeInsecure       bool     `toml:"expose-insecure"`
}

type Options struct {
	Addr            string        `toml:"addr"`
	HTTPS           *HTTPSOptions `toml:"https"`
	InstanceName    string        `toml:"instance-name"`
	ShutdownTimeout time.Duration `toml:"shutdown-timeout"`

	Log     slogx.Options    `toml:"log"`
	DB      database.Options `toml:"db"`
	Cache   cache.Options    `toml:"cache"`
	StartGG startgg.Options  `toml:"startgg"`
	Poll    poll.Options     `toml:"poll"`
	Mirror  mirror.Options   `toml:"mirror"`
	API     httpapi.Options  `toml:"api"`
	Feed    feed.Options     `toml:"feed"`
}

func (o *Options) FillDefaults() {
	if o.Addr == "" {
		o.Addr = "127.0.0.1:8080"
	}
	if o.HTTPS != nil && o.HTTPS.Addr == "" {
		o.HTTPS.Addr = ":443"
	}
	if o.InstanceName == "" {
		o.InstanceName = petname.Generate(2, "-")
	}
	if o.ShutdownTimeout == 0 {
		o.ShutdownTimeout = 10 * time.Second
	}
	o.Log.FillDefaults()
	o.DB.FillDefaults()
	o.Cache.FillDefaults()
	if o.StartGG.CacheTTL == 0 {
		o.StartGG.CacheTTL = o.Cache.TTL
	}
	o.StartGG.FillDefaults()
	o.Poll.FillDefaults()
	o.Mirror.FillDefaults()
	o.API.FillDefaults()
	o.Feed.FillDefaults()
}

func (o *Options) Validate() error {
	if o.HTTPS != nil && o.HTTPS.CachePath == "" {
		return fmt.Errorf("certificate cache path not specified")
	}
	if err := o.DB.Validate(); err != nil {
		return fmt.Errorf("db: %w", err)
	}
	if err := o.Cache.Validate(); err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	if err := o.StartGG.Validate(); err != nil {
		return fmt.Errorf("startgg: %w", err)
	}
	if err := o.Poll.Validate(); err != nil {
		return fmt.Errorf("poll: %w", err)
	}
	return nil
}

func loadOptions(path string) (*Options, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read options: %w", err)
	}
	var opts Options
	if err := toml.Unmarshal(raw, &opts); err != nil {
		return nil, fmt.Errorf("unmarshal options: %w", err)
	}
	opts.FillDefaults()
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("bad options: %w", err)
	}
	return &opts, nil
}

const (
	envStartGGToken = "BRACKETD_STARTGG_TOKEN"
	envAPIToken     = "BRACKETD_API_TOKEN"
)

type Secrets struct {
	StartGGToken string `toml:"startgg-token"`
	APIToken     string `toml:"api-token"`
}

// GenerateMissing creates an API token if there is none. It reports whether
// the secrets changed.
func (s *Secrets) GenerateMissing() (bool, error) {
	if s.APIToken != "" {
		return false, nil
	}
	token, err := idgen.SecureToken()
	if err != nil {
		return false, fmt.Errorf("generate api token: %w", err)
	}
	s.APIToken = token
	return true, nil
}

func (s *Secrets) applyEnv() {
	if v := os.Getenv(envStartGGToken); v != "" {
		s.StartGGToken = v
	}
	if v := os.Getenv(envAPIToken); v != "" {
		s.APIToken = v
	}
}

func loadDotEnv() error {
	if _, err := os.Stat(".env"); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat .env: %w", err)
	}
	if err := godotenv.Load(); err != nil {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

// loadSecrets reads the secrets file, which may be absent, and overlays the
// environment. With generate set, missing secrets are created and written
// back to the file.
func loadSecrets(path string, generate bool) (*Secrets, error) {
	var secrets Secrets
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read secrets: %w", err)
		}
		if err := toml.Unmarshal(raw, &secrets); err != nil {
			return nil, fmt.Errorf("unmarshal secrets: %w", err)
		}
	}
	if generate && path != "" {
		changed, err := secrets.GenerateMissing()
		if err != nil {
			return nil, fmt.Errorf("generate secrets: %w", err)
		}
		if changed {
			raw, err := toml.Marshal(&secrets)
			if err != nil {
				return nil, fmt.Errorf("marshal secrets: %w", err)
			}
			if err := os.WriteFile(path, raw, 0600); err != nil {
				return nil, fmt.Errorf("write secrets: %w", err)
			}
		}
	}
	if err := loadDotEnv(); err != nil {
		return nil, err
	}
	secrets.applyEnv()
	return &secrets, nil
}
