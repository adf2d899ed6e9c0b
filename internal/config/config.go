package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	log "github.com/sirupsen/logrus"
)

const (
	DefaultPath = "./config/application.yaml"
	envPrefix   = "GCALSYNC_"
)

type Application struct {
	Vault  Vault  `koanf:"vault"`
	Google Google `koanf:"google"`
	Sync   Sync   `koanf:"sync"`
	Server Server `koanf:"server"`
	Log    Log    `koanf:"log"`
}

type Vault struct {
	// Path is the vault root on disk.
	Path string `koanf:"path"`
	// Name is the vault name used in embedded links.
	Name string `koanf:"name"`
	// Directory is the collection holding event documents, relative to Path.
	Directory string `koanf:"directory"`
	Scheme    string `koanf:"scheme"`
}

type Google struct {
	CredentialsFile string `koanf:"credentialsfile"`
	TokenFile       string `koanf:"tokenfile"`
	CalendarId      string `koanf:"calendarid"`
}

type Sync struct {
	// Refresh is a cron spec for periodic full passes. Empty disables them.
	Refresh      string `koanf:"refresh"`
	ImportRemote bool   `koanf:"importremote"`
	LookbackDays int    `koanf:"lookbackdays"`
	DebounceMs   int    `koanf:"debouncems"`
}

type Server struct {
	Enabled bool   `koanf:"enabled"`
	Listen  string `koanf:"listen"`
	// Host is the externally visible base url, used for the OAuth redirect.
	Host string `koanf:"host"`
}

type Log struct {
	Level      string `koanf:"level"`
	File       string `koanf:"file"`
	MaxSizeMb  int    `koanf:"maxsizemb"`
	MaxBackups int    `koanf:"maxbackups"`
	MaxAgeDays int    `koanf:"maxagedays"`
}

func defaults() Application {
	return Application{
		Vault: Vault{
			Path:   ".",
			Scheme: "obsidian",
		},
		Google: Google{
			CredentialsFile: "./config/credentials.json",
			TokenFile:       "./config/token.json",
			CalendarId:      "primary",
		},
		Sync: Sync{
			Refresh:      "@every 30m",
			ImportRemote: true,
			DebounceMs:   250,
		},
		Server: Server{
			Enabled: true,
			Listen:  ":8181",
			Host:    "http://localhost:8181",
		},
		Log: Log{
			Level:      "info",
			MaxSizeMb:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

func Load(path string) (Application, error) {
	var k = koanf.New(".")

	err := k.Load(structs.Provider(defaults(), "koanf"), nil)
	if err != nil {
		log.Errorf("error loading config from structs: %v", err)
		return Application{}, err
	}

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		if os.IsNotExist(err) {
			log.Infof("Config file not found at %s, using defaults and environment variables", path)
		} else {
			log.Errorf("error loading config from YAML: %v", err)
			return Application{}, err
		}
	} else {
		log.Infof("Loaded configuration from file: %s", path)
	}

	err = k.Load(env.Provider(".", env.Opt{
		Prefix: envPrefix,
		TransformFunc: func(k, v string) (string, any) {
			k = strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(k, envPrefix)), "_", ".")
			return k, v
		},
	}), nil)
	if err != nil {
		log.Errorf("error loading config from envs: %v", err)
		return Application{}, err
	}

	var app Application
	if err := k.Unmarshal("", &app); err != nil {
		return Application{}, err
	}
	if app.Vault.Name == "" {
		app.Vault.Name = vaultName(app.Vault.Path)
	}

	return app, nil
}

// vaultName defaults the link vault name to the base name of the vault directory.
func vaultName(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return ""
	}
	return filepath.Base(abs)
}
