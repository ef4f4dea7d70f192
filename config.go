package main

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const defaultConfigDir = ".blog-agent"

// Embedded configuration files
//
//go:embed config/settings.yaml
var defaultSettingsYAML string

//go:embed config/seo-user-prompt.tmpl
var seoUserPrompt string

//go:embed config/content-user-prompt.tmpl
var contentUserPrompt string

//go:embed config/alt-text-user-prompt.tmpl
var altTextUserPrompt string

//go:embed config/taxonomy-user-prompt.tmpl
var taxonomyUserPrompt string

//go:embed config/image-prompt.tmpl
var imagePrompt string

//go:embed config/seo-schema.json
var seoSchema string

//go:embed config/taxonomy-schema.json
var taxonomySchema string

// Settings represents the YAML configuration structure
type Settings struct {
	Generation struct {
		Provider    string        `yaml:"provider"`
		Model       string        `yaml:"model"`
		MaxTokens   int           `yaml:"max_tokens"`
		Timeout     time.Duration `yaml:"timeout"`
		Temperature struct {
			SEO      float64 `yaml:"seo"`
			Content  float64 `yaml:"content"`
			AltText  float64 `yaml:"alt_text"`
			Taxonomy float64 `yaml:"taxonomy"`
		} `yaml:"temperature"`
	} `yaml:"generation"`
	Content    ContentSettings `yaml:"content"`
	Images     ImageSettings   `yaml:"images"`
	Publishing struct {
		Status  PostStatus    `yaml:"status"`
		Timeout time.Duration `yaml:"timeout"`
		Retry   RetryPolicy   `yaml:"retry"`
	} `yaml:"publishing"`
	Sheets        SheetsSettings   `yaml:"sheets"`
	Schedule      ScheduleSettings `yaml:"schedule"`
	Notifications struct {
		PerPost bool `yaml:"per_post"`
	} `yaml:"notifications"`
	Logging LoggingSettings `yaml:"logging"`
	Demo    DemoSettings    `yaml:"demo"`
}

// ContentSettings bounds the generated article.
type ContentSettings struct {
	MinWordCount          int  `yaml:"min_word_count"`
	MaxWordCount          int  `yaml:"max_word_count"`
	EnableInternalLinking bool `yaml:"enable_internal_linking"`
	MinInternalLinks      int  `yaml:"min_internal_links"`
	MaxInternalLinks      int  `yaml:"max_internal_links"`
	AltTextMaxLength      int  `yaml:"alt_text_max_length"`
	EnforceLimits         bool `yaml:"enforce_limits"`
}

// ImageSettings configures the image waterfall.
type ImageSettings struct {
	Timeout         time.Duration `yaml:"timeout"`
	DownloadTimeout time.Duration `yaml:"download_timeout"`
	Retry           RetryPolicy   `yaml:"retry"`
	Dalle           struct {
		Model           string `yaml:"model"`
		Size            string `yaml:"size"`
		Quality         string `yaml:"quality"`
		PromptMaxLength int    `yaml:"prompt_max_length"`
	} `yaml:"dalle"`
}

// SheetsSettings names the worksheets of the task spreadsheet.
type SheetsSettings struct {
	TopicsSheet string `yaml:"topics_sheet"`
	LogsSheet   string `yaml:"logs_sheet"`
	LogToSheet  bool   `yaml:"log_to_sheet"`
}

// ScheduleSettings drives the cron runner.
type ScheduleSettings struct {
	PostsPerWeek int   `yaml:"posts_per_week_per_site"`
	PostingHours []int `yaml:"posting_hours"`
	BatchSize    int   `yaml:"batch_size"`
}

// LoggingSettings configures the slog handler and the rotating log file.
type LoggingSettings struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// DemoSettings is the work item used by --demo.
type DemoSettings struct {
	Topic         string   `yaml:"topic"`
	BusinessType  string   `yaml:"business_type"`
	Location      string   `yaml:"location"`
	InternalLinks []string `yaml:"internal_links"`
	SiteDomain    string   `yaml:"site_domain"`
}

// WorkItem converts the demo settings into a work item.
func (d DemoSettings) WorkItem() WorkItem {
	return WorkItem{
		Topic:        d.Topic,
		BusinessType: d.BusinessType,
		Location:     d.Location,
		InternalURLs: d.InternalLinks,
		SiteDomain:   d.SiteDomain,
	}
}

// WordPressSite is one publishing target from WORDPRESS_SITES.
type WordPressSite struct {
	Name        string `json:"name"`
	URL         string `json:"url"`
	Username    string `json:"username"`
	AppPassword string `json:"app_password"`
}

// Secrets are read from the environment only.
type Secrets struct {
	OpenAIAPIKey      string
	AnthropicAPIKey   string
	PexelsAPIKey      string
	UnsplashAccessKey string
	SheetsCredentials string
	SheetID           string
	TelegramBotToken  string
	TelegramChatID    string
	SlackWebhookURL   string
}

// Config holds settings, secrets and publishing targets
type Config struct {
	Settings *Settings
	Secrets  Secrets
	Sites    []WordPressSite
}

// LoadConfig reads the dotenv file (if any), the settings file and the
// environment. An empty settingsPath uses .blog-agent/settings.yaml, which
// is written with defaults on first run.
func LoadConfig(settingsPath, envPath string) (*Config, error) {
	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load env file %s: %w", envPath, err)
		}
	}

	if settingsPath == "" {
		if err := ensureConfigExists(); err != nil {
			return nil, fmt.Errorf("ensuring config files exist: %w", err)
		}
		settingsPath = getConfigPath("settings.yaml")
	}

	settings, err := loadSettings(settingsPath)
	if err != nil {
		return nil, err
	}
	applyEnvOverrides(settings)
	if err := settings.validate(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}

	sites, err := parseSites(os.Getenv("WORDPRESS_SITES"))
	if err != nil {
		return nil, err
	}

	return &Config{
		Settings: settings,
		Secrets:  loadSecrets(),
		Sites:    sites,
	}, nil
}

// defaultSettings parses the embedded settings file.
func defaultSettings() *Settings {
	var settings Settings
	if err := yaml.Unmarshal([]byte(defaultSettingsYAML), &settings); err != nil {
		panic(fmt.Sprintf("embedded settings.yaml is invalid: %v", err))
	}
	return &settings
}

// loadSettings overlays the file at path on top of the embedded defaults.
func loadSettings(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read settings file %s: %w", path, err)
	}

	settings := defaultSettings()
	if err := yaml.Unmarshal(data, settings); err != nil {
		return nil, fmt.Errorf("failed to parse settings YAML: %w", err)
	}
	return settings, nil
}

func (s *Settings) validate() error {
	var errs []error
	switch s.Generation.Provider {
	case "openai", "anthropic":
	default:
		errs = append(errs, fmt.Errorf("generation.provider must be openai or anthropic, got %q", s.Generation.Provider))
	}
	if s.Content.MinWordCount > s.Content.MaxWordCount {
		errs = append(errs, fmt.Errorf("content.min_word_count %d exceeds max_word_count %d", s.Content.MinWordCount, s.Content.MaxWordCount))
	}
	if s.Content.MinInternalLinks > s.Content.MaxInternalLinks {
		errs = append(errs, fmt.Errorf("content.min_internal_links %d exceeds max_internal_links %d", s.Content.MinInternalLinks, s.Content.MaxInternalLinks))
	}
	if s.Content.AltTextMaxLength < 1 || s.Content.AltTextMaxLength > altTextLimit {
		errs = append(errs, fmt.Errorf("content.alt_text_max_length must be between 1 and %d, got %d", altTextLimit, s.Content.AltTextMaxLength))
	}
	switch s.Publishing.Status {
	case PostPublish, PostDraft:
	default:
		errs = append(errs, fmt.Errorf("publishing.status must be publish or draft, got %q", s.Publishing.Status))
	}
	for _, h := range s.Schedule.PostingHours {
		if h < 0 || h > 23 {
			errs = append(errs, fmt.Errorf("schedule.posting_hours contains invalid hour %d", h))
		}
	}
	return errors.Join(errs...)
}

func loadSecrets() Secrets {
	return Secrets{
		OpenAIAPIKey:      getEnv("OPENAI_API_KEY", ""),
		AnthropicAPIKey:   getEnv("ANTHROPIC_API_KEY", ""),
		PexelsAPIKey:      getEnv("PEXELS_API_KEY", ""),
		UnsplashAccessKey: getEnv("UNSPLASH_ACCESS_KEY", ""),
		SheetsCredentials: getEnv("GOOGLE_SHEETS_CREDENTIALS_FILE", "config/credentials.json"),
		SheetID:           getEnv("GOOGLE_SHEET_ID", ""),
		TelegramBotToken:  getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:    getEnv("TELEGRAM_CHAT_ID", ""),
		SlackWebhookURL:   getEnv("SLACK_WEBHOOK_URL", ""),
	}
}

// applyEnvOverrides lets the environment override the settings file.
func applyEnvOverrides(s *Settings) {
	if s.Generation.Provider == "openai" {
		s.Generation.Model = getEnv("OPENAI_MODEL", s.Generation.Model)
	}
	s.Schedule.PostsPerWeek = getEnvAsInt("POSTS_PER_WEEK_PER_SITE", s.Schedule.PostsPerWeek)
	if hours, ok := getEnvAsInts("POSTING_HOURS"); ok {
		s.Schedule.PostingHours = hours
	}
	s.Content.MinWordCount = getEnvAsInt("MIN_WORD_COUNT", s.Content.MinWordCount)
	s.Content.MaxWordCount = getEnvAsInt("MAX_WORD_COUNT", s.Content.MaxWordCount)
	s.Content.EnableInternalLinking = getEnvAsBool("ENABLE_INTERNAL_LINKING", s.Content.EnableInternalLinking)
	s.Content.MinInternalLinks = getEnvAsInt("MIN_INTERNAL_LINKS", s.Content.MinInternalLinks)
	s.Content.MaxInternalLinks = getEnvAsInt("MAX_INTERNAL_LINKS", s.Content.MaxInternalLinks)
	s.Logging.Level = getEnv("LOG_LEVEL", s.Logging.Level)
	s.Sheets.LogToSheet = getEnvAsBool("LOG_TO_SHEET", s.Sheets.LogToSheet)
}

// parseSites decodes the WORDPRESS_SITES JSON array.
func parseSites(raw string) ([]WordPressSite, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var sites []WordPressSite
	if err := json.Unmarshal([]byte(raw), &sites); err != nil {
		return nil, fmt.Errorf("WORDPRESS_SITES must be a JSON array: %w", err)
	}
	for i, site := range sites {
		if site.URL == "" || site.Username == "" || site.AppPassword == "" {
			return nil, fmt.Errorf("WORDPRESS_SITES[%d]: url, username and app_password are required", i)
		}
		sites[i].URL = strings.TrimRight(site.URL, "/")
		if site.Name == "" {
			sites[i].Name = sites[i].URL
		}
	}
	return sites, nil
}

// RequireGeneration checks the key for the configured generation provider.
func (c *Config) RequireGeneration() error {
	switch c.Settings.Generation.Provider {
	case "anthropic":
		if c.Secrets.AnthropicAPIKey == "" {
			return errors.New("ANTHROPIC_API_KEY is required")
		}
	default:
		if c.Secrets.OpenAIAPIKey == "" {
			return errors.New("OPENAI_API_KEY is required")
		}
	}
	return nil
}

// RequireSheets checks the spreadsheet id and credentials file.
func (c *Config) RequireSheets() error {
	if c.Secrets.SheetID == "" {
		return errors.New("GOOGLE_SHEET_ID is required")
	}
	if _, err := os.Stat(c.Secrets.SheetsCredentials); err != nil {
		return fmt.Errorf("google sheets credentials file: %w", err)
	}
	return nil
}

// RequireSites checks that at least one WordPress site is configured.
func (c *Config) RequireSites() error {
	if len(c.Sites) == 0 {
		return errors.New("WORDPRESS_SITES must list at least one site")
	}
	return nil
}

// FindSite returns the site whose URL contains domain, case-insensitively.
func (c *Config) FindSite(domain string) (WordPressSite, bool) {
	domain = strings.ToLower(strings.TrimSpace(domain))
	if domain == "" {
		return WordPressSite{}, false
	}
	for _, site := range c.Sites {
		if strings.Contains(strings.ToLower(site.URL), domain) {
			return site, true
		}
	}
	return WordPressSite{}, false
}

// getConfigPath returns the path to a config file in .blog-agent directory
func getConfigPath(filename string) string {
	return filepath.Join(defaultConfigDir, filename)
}

// ensureConfigExists creates the config directory and default settings if they don't exist
func ensureConfigExists() error {
	if err := os.MkdirAll(defaultConfigDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	settingsPath := getConfigPath("settings.yaml")
	if _, err := os.Stat(settingsPath); os.IsNotExist(err) {
		if err := os.WriteFile(settingsPath, []byte(defaultSettingsYAML), 0644); err != nil {
			return fmt.Errorf("failed to write default settings: %w", err)
		}
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	value, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	value, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsInts parses a comma-separated list such as "9,12,15".
func getEnvAsInts(key string) ([]int, bool) {
	raw := os.Getenv(key)
	if raw == "" {
		return nil, false
	}
	var values []int
	for _, part := range strings.Split(raw, ",") {
		v, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, false
		}
		values = append(values, v)
	}
	return values, true
}
