package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the relay
type Config struct {
	General     GeneralConfig     `mapstructure:"general"`
	Server      ServerConfig      `mapstructure:"server"`
	Voiceflow   VoiceflowConfig   `mapstructure:"voiceflow"`
	Titles      TitlesConfig      `mapstructure:"titles"`
	Transcripts TranscriptsConfig `mapstructure:"transcripts"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Listen   string `mapstructure:"listen"`
	LogLevel string `mapstructure:"log_level"`
	Debug    bool   `mapstructure:"debug"`
}

// Normalize turns a bare port ("3000") into a listen address (":3000").
func (g GeneralConfig) Normalize() GeneralConfig {
	g.Listen = strings.TrimSpace(g.Listen)
	if g.Listen == "" {
		g.Listen = ":3000"
	}
	if !strings.Contains(g.Listen, ":") {
		g.Listen = ":" + g.Listen
	}
	g.LogLevel = strings.ToLower(strings.TrimSpace(g.LogLevel))
	if g.LogLevel == "" {
		g.LogLevel = "info"
	}
	return g
}

func (g GeneralConfig) Validate() error {
	switch g.LogLevel {
	case "debug", "info", "warn", "error":
		return nil
	}
	return fmt.Errorf("general.log_level must be one of debug, info, warn, error (got %q)", g.LogLevel)
}

// ServerConfig contains inbound HTTP settings
type ServerConfig struct {
	CORSAllowOrigins []string `mapstructure:"cors_allow_origins"`
	BodyLimit        string   `mapstructure:"body_limit"`
}

func (s ServerConfig) Normalize() ServerConfig {
	if len(s.CORSAllowOrigins) == 0 {
		s.CORSAllowOrigins = []string{"*"}
	}
	if strings.TrimSpace(s.BodyLimit) == "" {
		s.BodyLimit = "1M"
	}
	return s
}

// VoiceflowConfig points the relay at the upstream platform.
type VoiceflowConfig struct {
	RuntimeBaseURL string          `mapstructure:"runtime_base_url"`
	APIBaseURL     string          `mapstructure:"api_base_url"`
	CreatorBaseURL string          `mapstructure:"creator_base_url"`
	Timeout        time.Duration   `mapstructure:"timeout"`
	Knowledge      KnowledgeConfig `mapstructure:"knowledge"`
}

// KnowledgeConfig holds the fixed settings sent with every knowledge-base query.
type KnowledgeConfig struct {
	Model       string  `mapstructure:"model"`
	Temperature float64 `mapstructure:"temperature"`
	ChunkLimit  int     `mapstructure:"chunk_limit"`
}

func (v VoiceflowConfig) Normalize() VoiceflowConfig {
	v.RuntimeBaseURL = strings.TrimRight(strings.TrimSpace(v.RuntimeBaseURL), "/")
	v.APIBaseURL = strings.TrimRight(strings.TrimSpace(v.APIBaseURL), "/")
	v.CreatorBaseURL = strings.TrimRight(strings.TrimSpace(v.CreatorBaseURL), "/")
	if v.Timeout <= 0 {
		v.Timeout = 30 * time.Second
	}
	if v.Knowledge.Model == "" {
		v.Knowledge.Model = "gpt-4o-mini"
	}
	if v.Knowledge.ChunkLimit <= 0 {
		v.Knowledge.ChunkLimit = 2
	}
	return v
}

func (v VoiceflowConfig) Validate() error {
	if v.RuntimeBaseURL == "" {
		return fmt.Errorf("voiceflow.runtime_base_url required")
	}
	if v.APIBaseURL == "" {
		return fmt.Errorf("voiceflow.api_base_url required")
	}
	if v.CreatorBaseURL == "" {
		return fmt.Errorf("voiceflow.creator_base_url required")
	}
	if v.Knowledge.Temperature < 0 || v.Knowledge.Temperature > 2 {
		return fmt.Errorf("voiceflow.knowledge.temperature must be within [0, 2]")
	}
	return nil
}

// TitlesConfig controls page-title resolution for knowledge results.
type TitlesConfig struct {
	Timeout      time.Duration `mapstructure:"timeout"`
	UserAgent    string        `mapstructure:"user_agent"`
	Strategy     string        `mapstructure:"strategy"`
	MaxBodyBytes int64         `mapstructure:"max_body_bytes"`
}

// DefaultUserAgent is sent when fetching pages; some sites reject bot agents.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

func (t TitlesConfig) Normalize() TitlesConfig {
	if t.Timeout <= 0 {
		t.Timeout = 5 * time.Second
	}
	if strings.TrimSpace(t.UserAgent) == "" {
		t.UserAgent = DefaultUserAgent
	}
	t.Strategy = strings.ToLower(strings.TrimSpace(t.Strategy))
	if t.Strategy == "" {
		t.Strategy = "regex"
	}
	if t.MaxBodyBytes <= 0 {
		t.MaxBodyBytes = 2 << 20
	}
	return t
}

func (t TitlesConfig) Validate() error {
	if t.Strategy != "regex" && t.Strategy != "readability" {
		return fmt.Errorf("titles.strategy must be regex or readability (got %q)", t.Strategy)
	}
	return nil
}

// TranscriptsConfig controls how transcript timestamps are displayed.
type TranscriptsConfig struct {
	DisplayTimezone string `mapstructure:"display_timezone"`
	TimeLayout      string `mapstructure:"time_layout"`
}

func (t TranscriptsConfig) Normalize() TranscriptsConfig {
	if strings.TrimSpace(t.DisplayTimezone) == "" {
		t.DisplayTimezone = "Local"
	}
	if strings.TrimSpace(t.TimeLayout) == "" {
		t.TimeLayout = "Jan 2, 2006, 3:04:05 PM"
	}
	return t
}

func (t TranscriptsConfig) Validate() error {
	if _, err := time.LoadLocation(t.DisplayTimezone); err != nil {
		return fmt.Errorf("transcripts.display_timezone: %w", err)
	}
	return nil
}

// Location resolves DisplayTimezone, falling back to time.Local.
func (t TranscriptsConfig) Location() *time.Location {
	loc, err := time.LoadLocation(t.DisplayTimezone)
	if err != nil {
		return time.Local
	}
	return loc
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("general.listen", ":3000")
	v.SetDefault("general.log_level", "info")
	v.SetDefault("general.debug", false)
	v.SetDefault("server.cors_allow_origins", []string{"*"})
	v.SetDefault("server.body_limit", "1M")
	v.SetDefault("voiceflow.runtime_base_url", "https://general-runtime.voiceflow.com")
	v.SetDefault("voiceflow.api_base_url", "https://api.voiceflow.com")
	v.SetDefault("voiceflow.creator_base_url", "https://creator.voiceflow.com")
	v.SetDefault("voiceflow.timeout", 30*time.Second)
	v.SetDefault("voiceflow.knowledge.model", "gpt-4o-mini")
	v.SetDefault("voiceflow.knowledge.temperature", 0.2)
	v.SetDefault("voiceflow.knowledge.chunk_limit", 2)
	v.SetDefault("titles.timeout", 5*time.Second)
	v.SetDefault("titles.user_agent", DefaultUserAgent)
	v.SetDefault("titles.strategy", "regex")
	v.SetDefault("titles.max_body_bytes", 2<<20)
	v.SetDefault("transcripts.display_timezone", "Local")
	v.SetDefault("transcripts.time_layout", "Jan 2, 2006, 3:04:05 PM")
}

// LoadConfig loads config from file and environment. An empty path searches
// the usual locations; a missing file there is not an error.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config") // name of config file (without extension)
	setDefaults(v)

	if path == "" {
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		v.AddConfigPath(exeDir)                                // bin/
		v.AddConfigPath(filepath.Join(exeDir, "..", "config")) // repo root/config
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("VFRELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv() // read in environment variables that match (VFRELAY_*)
	_ = v.BindEnv("general.listen", "VFRELAY_GENERAL_LISTEN", "PORT")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	config.Normalize()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Normalize applies defaults to every section.
func (c *Config) Normalize() {
	c.General = c.General.Normalize()
	c.Server = c.Server.Normalize()
	c.Voiceflow = c.Voiceflow.Normalize()
	c.Titles = c.Titles.Normalize()
	c.Transcripts = c.Transcripts.Normalize()
}

func (c *Config) Validate() error {
	if err := c.General.Validate(); err != nil {
		return err
	}
	if err := c.Voiceflow.Validate(); err != nil {
		return err
	}
	if err := c.Titles.Validate(); err != nil {
		return err
	}
	return c.Transcripts.Validate()
}

// Default returns a normalized configuration without reading files or env.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var config Config
	_ = v.Unmarshal(&config)
	config.Normalize()
	return &config
}
