// Package config loads the gateway configuration from defaults, an
// optional file, STELLAR_ environment variables and command-line flags.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/edumarques81/stellar-jukebox/internal/domain/candidates"
	"github.com/edumarques81/stellar-jukebox/internal/domain/jukebox"
	"github.com/edumarques81/stellar-jukebox/internal/domain/song"
	"github.com/edumarques81/stellar-jukebox/internal/infra/retry"
)

// EnvPrefix prefixes every environment override, e.g. STELLAR_MPD_HOST.
const EnvPrefix = "STELLAR"

// Config represents the application configuration.
type Config struct {
	Server      ServerConfig      `json:"server" mapstructure:"server"`
	MPD         MPDConfig         `json:"mpd" mapstructure:"mpd"`
	DataDir     string            `json:"data_dir" mapstructure:"data_dir"`
	Log         LogConfig         `json:"log" mapstructure:"log"`
	Workers     WorkersConfig     `json:"workers" mapstructure:"workers"`
	Annotations AnnotationsConfig `json:"annotations" mapstructure:"annotations"`
	Albums      AlbumsConfig      `json:"albums" mapstructure:"albums"`
	Jukebox     JukeboxConfig     `json:"jukebox" mapstructure:"jukebox"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port string `json:"port" mapstructure:"port"`

	// MaxClients limits concurrent non-loopback Socket.io clients; 0
	// disables the limit.
	MaxClients int `json:"max_clients" mapstructure:"max_clients"`
}

// MPDConfig contains MPD connection settings.
type MPDConfig struct {
	Host       string   `json:"host" mapstructure:"host"`
	Port       int      `json:"port" mapstructure:"port"`
	Password   string   `json:"password" mapstructure:"password"`
	Partitions []string `json:"partitions" mapstructure:"partitions"`
	PageSize   int      `json:"page_size" mapstructure:"page_size"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level      string `json:"level" mapstructure:"level"`
	File       string `json:"file" mapstructure:"file"`
	MaxSizeMB  int    `json:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `json:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `json:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `json:"compress" mapstructure:"compress"`
}

// WorkersConfig sizes the background worker pool.
type WorkersConfig struct {
	Count     int `json:"count" mapstructure:"count"`
	QueueSize int `json:"queue_size" mapstructure:"queue_size"`
}

// AnnotationsConfig selects where play counts and ratings live.
type AnnotationsConfig struct {
	// Backend is "mpd" for the sticker database or "sqlite".
	Backend string `json:"backend" mapstructure:"backend"`
	Path    string `json:"path" mapstructure:"path"`
}

// AlbumsConfig contains album view settings.
type AlbumsConfig struct {
	Grouping        string `json:"grouping" mapstructure:"grouping"`
	RebuildOnChange bool   `json:"rebuild_on_change" mapstructure:"rebuild_on_change"`
}

// JukeboxConfig holds the settings every partition's jukebox starts with.
type JukeboxConfig struct {
	Mode            string        `json:"mode" mapstructure:"mode"`
	Playlist        string        `json:"playlist" mapstructure:"playlist"`
	QueueLength     int           `json:"queue_length" mapstructure:"queue_length"`
	UniqueTag       string        `json:"unique_tag" mapstructure:"unique_tag"`
	LastPlayedHours int           `json:"last_played_hours" mapstructure:"last_played_hours"`
	IgnoreHated     bool          `json:"ignore_hated" mapstructure:"ignore_hated"`
	MinDuration     time.Duration `json:"min_duration" mapstructure:"min_duration"`
	MaxDuration     time.Duration `json:"max_duration" mapstructure:"max_duration"`
	Include         string        `json:"include" mapstructure:"include"`
	Exclude         string        `json:"exclude" mapstructure:"exclude"`
	Autoplay        bool          `json:"autoplay" mapstructure:"autoplay"`
	TickInterval    time.Duration `json:"tick_interval" mapstructure:"tick_interval"`
	TriggerEvery    time.Duration `json:"trigger_every" mapstructure:"trigger_every"`
	MaxRetries      int           `json:"max_retries" mapstructure:"max_retries"`
	SongLowWater    int           `json:"song_low_water" mapstructure:"song_low_water"`
	SongTarget      int           `json:"song_target" mapstructure:"song_target"`
	AlbumLowWater   int           `json:"album_low_water" mapstructure:"album_low_water"`
	AlbumTarget     int           `json:"album_target" mapstructure:"album_target"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "3002")
	v.SetDefault("server.max_clients", 5)

	v.SetDefault("mpd.host", "localhost")
	v.SetDefault("mpd.port", 6600)
	v.SetDefault("mpd.password", "")
	v.SetDefault("mpd.partitions", []string{"default"})
	v.SetDefault("mpd.page_size", 1000)

	v.SetDefault("data_dir", "data")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)
	v.SetDefault("log.compress", true)

	v.SetDefault("workers.count", 2)
	v.SetDefault("workers.queue_size", 64)

	v.SetDefault("annotations.backend", "mpd")
	v.SetDefault("annotations.path", "")

	v.SetDefault("albums.grouping", "")
	v.SetDefault("albums.rebuild_on_change", true)

	v.SetDefault("jukebox.mode", "off")
	v.SetDefault("jukebox.playlist", "")
	v.SetDefault("jukebox.queue_length", 1)
	v.SetDefault("jukebox.unique_tag", "Album")
	v.SetDefault("jukebox.last_played_hours", 24)
	v.SetDefault("jukebox.ignore_hated", false)
	v.SetDefault("jukebox.min_duration", "0s")
	v.SetDefault("jukebox.max_duration", "0s")
	v.SetDefault("jukebox.include", "")
	v.SetDefault("jukebox.exclude", "")
	v.SetDefault("jukebox.autoplay", false)
	v.SetDefault("jukebox.tick_interval", "30s")
	v.SetDefault("jukebox.trigger_every", "1s")
	v.SetDefault("jukebox.max_retries", 2)
	v.SetDefault("jukebox.song_low_water", candidates.SongLowWater)
	v.SetDefault("jukebox.song_target", candidates.SongTarget)
	v.SetDefault("jukebox.album_low_water", candidates.AlbumLowWater)
	v.SetDefault("jukebox.album_target", candidates.AlbumTarget)
}

// flagKeys binds command-line flags to configuration keys.
var flagKeys = map[string]string{
	"port":          "server.port",
	"mpd-host":      "mpd.host",
	"mpd-port":      "mpd.port",
	"mpd-password":  "mpd.password",
	"partitions":    "mpd.partitions",
	"data-dir":      "data_dir",
	"log-level":     "log.level",
	"log-file":      "log.file",
	"workers":       "workers.count",
	"annotations":   "annotations.backend",
	"jukebox-mode":  "jukebox.mode",
	"jukebox-queue": "jukebox.queue_length",
}

// NewFlagSet returns the command-line flags understood by Load.
func NewFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.String("config", "", "Configuration file (yaml, json or toml)")
	fs.String("port", "3002", "HTTP server port")
	fs.String("mpd-host", "localhost", "MPD host")
	fs.Int("mpd-port", 6600, "MPD port")
	fs.String("mpd-password", "", "MPD password")
	fs.StringSlice("partitions", []string{"default"}, "MPD partitions to run a jukebox in")
	fs.String("data-dir", "data", "Directory for history files and the annotation database")
	fs.String("log-level", "info", "Log level (debug, info, warn, error)")
	fs.String("log-file", "", "Rotated log file, in addition to stderr")
	fs.Bool("debug", false, "Enable debug logging")
	fs.Int("workers", 2, "Background worker count")
	fs.String("annotations", "mpd", "Annotation backend (mpd or sqlite)")
	fs.String("jukebox-mode", "off", "Initial jukebox mode (off, songs, albums)")
	fs.Int("jukebox-queue", 1, "Minimum live queue length kept by the jukebox")
	return fs
}

// Load parses args and returns the merged configuration.
func Load(args []string) (*Config, error) {
	fs := NewFlagSet("stellar-jukebox")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return LoadFlags(fs)
}

// LoadFlags merges defaults, the file named by --config, the environment
// and the flags explicitly set on fs.
func LoadFlags(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path, _ := fs.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for name, key := range flagKeys {
		if f := fs.Lookup(name); f != nil && f.Changed {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if debug, _ := fs.GetBool("debug"); debug {
		cfg.Log.Level = "debug"
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return errors.New("server port cannot be empty")
	}
	if c.Server.MaxClients < 0 {
		return errors.New("max clients cannot be negative")
	}
	if c.MPD.Host == "" {
		return errors.New("mpd host cannot be empty")
	}
	if c.MPD.Port < 1 || c.MPD.Port > 65535 {
		return fmt.Errorf("invalid mpd port: %d", c.MPD.Port)
	}
	if len(c.MPD.Partitions) == 0 {
		return errors.New("at least one partition is required")
	}
	seen := make(map[string]bool)
	for _, p := range c.MPD.Partitions {
		if strings.TrimSpace(p) == "" {
			return errors.New("partition names cannot be empty")
		}
		if seen[p] {
			return fmt.Errorf("duplicate partition %q", p)
		}
		seen[p] = true
	}
	if c.MPD.PageSize < 0 {
		return errors.New("page size cannot be negative")
	}
	if c.DataDir == "" {
		return errors.New("data directory cannot be empty")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Log.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Log.Level)
	}
	if c.Log.MaxSizeMB < 1 {
		return errors.New("log max size must be at least 1 MB")
	}
	if c.Log.MaxBackups < 0 || c.Log.MaxAgeDays < 0 {
		return errors.New("log retention cannot be negative")
	}

	if c.Workers.Count < 1 {
		return errors.New("workers count must be at least 1")
	}

	switch c.Annotations.Backend {
	case "mpd", "sqlite":
	default:
		return fmt.Errorf("invalid annotations backend: %s (must be mpd or sqlite)", c.Annotations.Backend)
	}

	if _, err := c.GroupingTag(); err != nil {
		return err
	}
	if c.Jukebox.TickInterval <= 0 {
		return errors.New("jukebox tick interval must be positive")
	}
	if c.Jukebox.MaxRetries < 0 {
		return errors.New("jukebox max retries cannot be negative")
	}
	if _, err := c.Jukebox.Settings(); err != nil {
		return fmt.Errorf("jukebox: %w", err)
	}
	return nil
}

// GroupingTag returns the tag splitting albums beyond artist and title.
func (c *Config) GroupingTag() (song.Tag, error) {
	if c.Albums.Grouping == "" {
		return song.TagNone, nil
	}
	tag, ok := song.LookupTag(c.Albums.Grouping)
	if !ok {
		return song.TagNone, fmt.Errorf("unknown album grouping tag %q", c.Albums.Grouping)
	}
	return tag, nil
}

// AnnotationsPath returns the SQLite annotation database path.
func (c *Config) AnnotationsPath() string {
	if c.Annotations.Path != "" {
		return c.Annotations.Path
	}
	return filepath.Join(c.DataDir, "annotations.db")
}

// Settings converts the jukebox defaults to engine settings.
func (j JukeboxConfig) Settings() (jukebox.Settings, error) {
	mode, err := jukebox.ParseMode(j.Mode)
	if err != nil {
		return jukebox.Settings{}, err
	}
	unique, ok := song.ParseUniqueTag(j.UniqueTag)
	if !ok {
		return jukebox.Settings{}, fmt.Errorf("unknown unique tag %q", j.UniqueTag)
	}
	if j.LastPlayedHours < 0 {
		return jukebox.Settings{}, errors.New("last played hours cannot be negative")
	}

	s := jukebox.DefaultSettings()
	s.Mode = mode
	s.Playlist = j.Playlist
	s.QueueLength = j.QueueLength
	s.UniqueTag = unique
	s.LastPlayed = time.Duration(j.LastPlayedHours) * time.Hour
	s.IgnoreHated = j.IgnoreHated
	s.MinDuration = j.MinDuration
	s.MaxDuration = j.MaxDuration
	s.Include = j.Include
	s.Exclude = j.Exclude
	s.Autoplay = j.Autoplay
	s.SongPolicy = candidates.RefillPolicy{LowWater: j.SongLowWater, Target: j.SongTarget}
	s.AlbumPolicy = candidates.RefillPolicy{LowWater: j.AlbumLowWater, Target: j.AlbumTarget}

	if err := s.Validate(); err != nil {
		return jukebox.Settings{}, err
	}
	return s, nil
}

// Retry returns the fill retry policy.
func (j JukeboxConfig) Retry() retry.Config {
	cfg := retry.DefaultConfig()
	cfg.MaxRetries = j.MaxRetries
	return cfg
}
