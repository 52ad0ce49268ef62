package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Schedule    string           `yaml:"schedule" validate:"required"`
	RunOnStart  bool             `yaml:"run_on_start"`
	NotifyEmpty bool             `yaml:"notify_empty"`
	Windows     []string         `yaml:"windows" validate:"min=1,dive,window"`
	Topics      []TopicConfig    `yaml:"topics" validate:"dive"`
	Feed        FeedConfig       `yaml:"feed"`
	Listing     ListingConfig    `yaml:"listing"`
	Store       StoreConfig      `yaml:"store"`
	Summarizer  SummarizerConfig `yaml:"summarizer"`
	Notifier    NotifierConfig   `yaml:"notifier"`
	Web         WebConfig        `yaml:"web"`
}

// TopicConfig is one named keyword group. MaxCombine 2 adds pairwise queries.
type TopicConfig struct {
	Name        string   `yaml:"name" validate:"required"`
	Keywords    []string `yaml:"keywords"`
	MaxCombine  int      `yaml:"max_combine" validate:"min=0,max=2"`
	TargetCount int      `yaml:"target_count" validate:"min=0"`
	Strict      bool     `yaml:"strict"`
}

type FeedConfig struct {
	BaseURL    string        `yaml:"base_url" validate:"omitempty,url"`
	MaxResults int           `yaml:"max_results" validate:"min=0,max=2000"`
	Timeout    time.Duration `yaml:"timeout"`
	UserAgent  string        `yaml:"user_agent"`
}

type ListingConfig struct {
	Enabled   bool            `yaml:"enabled"`
	Name      string          `yaml:"name"`
	BaseURL   string          `yaml:"base_url" validate:"omitempty,url"`
	Terms     []string        `yaml:"terms"`
	Selectors SelectorsConfig `yaml:"selectors"`
	Timeout   time.Duration   `yaml:"timeout"`
	Strict    bool            `yaml:"strict"`
}

// SelectorsConfig overrides the CSS selectors of the listing scraper.
// Empty fields keep the built-in defaults.
type SelectorsConfig struct {
	Item     string `yaml:"item"`
	Title    string `yaml:"title"`
	Abstract string `yaml:"abstract"`
	Date     string `yaml:"date"`
	Authors  string `yaml:"authors"`
}

type StoreConfig struct {
	Type    string      `yaml:"type" validate:"oneof=json sqlite redis"`
	Path    string      `yaml:"path"`
	Persist string      `yaml:"persist" validate:"oneof=incremental end"`
	Redis   RedisConfig `yaml:"redis"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db" validate:"min=0"`
	Key      string `yaml:"key"`
}

type SummarizerConfig struct {
	Endpoint  string        `yaml:"endpoint" validate:"url"`
	Model     string        `yaml:"model" validate:"required"`
	APIKey    string        `yaml:"api_key"`
	MaxTokens int           `yaml:"max_tokens" validate:"min=1"`
	Timeout   time.Duration `yaml:"timeout"`
	Language  string        `yaml:"language"`
	MaxChars  int           `yaml:"max_chars" validate:"min=1"`
	Required  bool          `yaml:"required"`
}

type NotifierConfig struct {
	Types      []string      `yaml:"types" validate:"min=1,dive,oneof=feishu discord stdout web"`
	Mode       string        `yaml:"mode" validate:"oneof=paper digest"`
	MaxLines   int           `yaml:"max_lines" validate:"min=1"`
	MaxRetries int           `yaml:"max_retries" validate:"min=0,max=10"`
	Timeout    time.Duration `yaml:"timeout"`
	Feishu     FeishuConfig  `yaml:"feishu"`
	Discord    DiscordConfig `yaml:"discord"`
}

type FeishuConfig struct {
	WebhookURL string `yaml:"webhook_url" validate:"omitempty,url"`
	Secret     string `yaml:"secret"`
}

type DiscordConfig struct {
	WebhookURL string `yaml:"webhook_url" validate:"omitempty,url"`
}

type WebConfig struct {
	Addr string `yaml:"addr"`
}

// Has reports whether the notifier type t is enabled.
func (n NotifierConfig) Has(t string) bool {
	for _, typ := range n.Types {
		if typ == t {
			return true
		}
	}
	return false
}

// WindowDurations returns the parsed lookback windows.
func (c *Config) WindowDurations() ([]time.Duration, error) {
	return ParseWindows(c.Windows)
}

var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with environment variable values.
// Unset variables expand to the empty string so env fallbacks and required
// checks see them as missing.
func expandEnvVars(s string) string {
	return envVarRegex.ReplaceAllStringFunc(s, func(match string) string {
		varName := strings.TrimSuffix(strings.TrimPrefix(match, "${"), "}")
		return os.Getenv(varName)
	})
}

// ParseWindows parses lookback windows such as "1d", "7d" or "12h". The
// result must be strictly ascending.
func ParseWindows(raw []string) ([]time.Duration, error) {
	out := make([]time.Duration, 0, len(raw))
	for i, s := range raw {
		d, err := parseWindow(s)
		if err != nil {
			return nil, err
		}
		if i > 0 && d <= out[i-1] {
			return nil, fmt.Errorf("config: windows must be strictly ascending, got %q after %q", s, raw[i-1])
		}
		out = append(out, d)
	}
	return out, nil
}

func parseWindow(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	var d time.Duration
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil {
			return 0, fmt.Errorf("config: invalid window %q", s)
		}
		d = time.Duration(n) * 24 * time.Hour
	} else {
		var err error
		if d, err = time.ParseDuration(s); err != nil {
			return 0, fmt.Errorf("config: invalid window %q", s)
		}
	}
	if d <= 0 {
		return 0, fmt.Errorf("config: window %q must be positive", s)
	}
	return d, nil
}

func setDefaults(cfg *Config) {
	if cfg.Schedule == "" {
		cfg.Schedule = "0 9 * * *"
	}
	if len(cfg.Windows) == 0 {
		cfg.Windows = []string{"1d", "7d", "14d", "30d", "90d"}
	}
	for i := range cfg.Topics {
		if cfg.Topics[i].MaxCombine == 0 {
			cfg.Topics[i].MaxCombine = 1
		}
	}
	if cfg.Feed.MaxResults == 0 {
		cfg.Feed.MaxResults = 20
	}
	if cfg.Feed.Timeout == 0 {
		cfg.Feed.Timeout = 30 * time.Second
	}
	if cfg.Listing.Name == "" {
		cfg.Listing.Name = "iop"
	}
	if cfg.Listing.Timeout == 0 {
		cfg.Listing.Timeout = 20 * time.Second
	}
	if cfg.Store.Type == "" {
		cfg.Store.Type = "json"
	}
	if cfg.Store.Path == "" {
		switch cfg.Store.Type {
		case "sqlite":
			cfg.Store.Path = "paperwatch.db"
		default:
			cfg.Store.Path = "sent_papers.json"
		}
	}
	if cfg.Store.Persist == "" {
		cfg.Store.Persist = "incremental"
	}
	if cfg.Summarizer.Endpoint == "" {
		cfg.Summarizer.Endpoint = "https://api.deepseek.com/chat/completions"
	}
	if cfg.Summarizer.Model == "" {
		cfg.Summarizer.Model = "deepseek-chat"
	}
	if cfg.Summarizer.MaxTokens == 0 {
		cfg.Summarizer.MaxTokens = 500
	}
	if cfg.Summarizer.Timeout == 0 {
		cfg.Summarizer.Timeout = 30 * time.Second
	}
	if cfg.Summarizer.Language == "" {
		cfg.Summarizer.Language = "Chinese"
	}
	if cfg.Summarizer.MaxChars == 0 {
		cfg.Summarizer.MaxChars = 200
	}
	if len(cfg.Notifier.Types) == 0 {
		cfg.Notifier.Types = []string{"stdout"}
	}
	if cfg.Notifier.Mode == "" {
		cfg.Notifier.Mode = "paper"
	}
	if cfg.Notifier.MaxLines == 0 {
		cfg.Notifier.MaxLines = 50
	}
	if cfg.Notifier.MaxRetries == 0 {
		cfg.Notifier.MaxRetries = 2
	}
	if cfg.Notifier.Timeout == 0 {
		cfg.Notifier.Timeout = 10 * time.Second
	}
	if cfg.Web.Addr == "" {
		cfg.Web.Addr = ":8080"
	}
}

// applyEnvFallbacks fills secrets left empty in the file from the process
// environment.
func applyEnvFallbacks(cfg *Config) {
	fallback := func(dst *string, key string) {
		if *dst == "" {
			*dst = os.Getenv(key)
		}
	}
	fallback(&cfg.Notifier.Feishu.WebhookURL, "FEISHU_WEBHOOK_URL")
	fallback(&cfg.Notifier.Feishu.Secret, "FEISHU_SECRET")
	fallback(&cfg.Notifier.Discord.WebhookURL, "DISCORD_WEBHOOK_URL")
	fallback(&cfg.Summarizer.APIKey, "DEEPSEEK_API_KEY")
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("window", func(fl validator.FieldLevel) bool {
		_, err := parseWindow(fl.Field().String())
		return err == nil
	})
	return v
}

var structValidator = newValidator()

func validate(cfg *Config) error {
	if err := structValidator.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			field := strings.TrimPrefix(fe.Namespace(), "Config.")
			if fe.Param() != "" {
				return fmt.Errorf("config: %s failed %q validation (%s), got %v", field, fe.Tag(), fe.Param(), fe.Value())
			}
			return fmt.Errorf("config: %s failed %q validation, got %v", field, fe.Tag(), fe.Value())
		}
		return fmt.Errorf("config: %w", err)
	}
	if _, err := ParseWindows(cfg.Windows); err != nil {
		return err
	}
	if len(cfg.Topics) == 0 && !(cfg.Listing.Enabled && len(cfg.Listing.Terms) > 0) {
		return fmt.Errorf("config: at least one topic or listing term is required")
	}
	seen := make(map[string]bool, len(cfg.Topics))
	for _, t := range cfg.Topics {
		if seen[t.Name] {
			return fmt.Errorf("config: duplicate topic name %q", t.Name)
		}
		seen[t.Name] = true
	}
	if cfg.Notifier.Has("feishu") && cfg.Notifier.Feishu.WebhookURL == "" {
		return fmt.Errorf("config: notifier.feishu.webhook_url is required for feishu notifier (set FEISHU_WEBHOOK_URL env var)")
	}
	if cfg.Notifier.Has("discord") && cfg.Notifier.Discord.WebhookURL == "" {
		return fmt.Errorf("config: notifier.discord.webhook_url is required for discord notifier (set DISCORD_WEBHOOK_URL env var)")
	}
	if cfg.Summarizer.Required && cfg.Summarizer.APIKey == "" {
		return fmt.Errorf("config: summarizer.api_key is required (set DEEPSEEK_API_KEY env var)")
	}
	if cfg.Store.Type == "redis" && cfg.Store.Redis.Addr == "" {
		return fmt.Errorf("config: store.redis.addr is required for redis store")
	}
	return nil
}

// Load reads the config file, expands environment variables, applies defaults,
// and validates the configuration.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("config: failed to parse %s: %w", path, err)
	}

	setDefaults(&cfg)
	applyEnvFallbacks(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
