package profwatch

import (
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/vigie/channels"
	"github.com/hazyhaar/vigie/profwatch/internal/profile"
)

// Config controls the monitor. The zero value is usable; defaults() fills
// every unset field. Credentials are never read from YAML, only from the
// environment via LoadEnv.
type Config struct {
	// DataDir holds the database, cookies, and anything else the monitor
	// persists. Defaults to "data".
	DataDir string `yaml:"data_dir"`
	// DBFile is the SQLite file name inside DataDir. Defaults to "vigie.db".
	DBFile string `yaml:"db_file"`

	Check   CheckConfig   `yaml:"check"`
	Browser BrowserConfig `yaml:"browser"`
	Notify  NotifyConfig  `yaml:"notify"`
	API     APIConfig     `yaml:"api"`

	// Selectors and Tokens override the extraction heuristics. Partial
	// overrides are fine; empty fields keep their defaults.
	Selectors profile.Selectors `yaml:"selectors"`
	Tokens    profile.Tokens    `yaml:"tokens"`
}

// CheckConfig paces the scheduled checking loop.
type CheckConfig struct {
	// Interval between scheduled passes over the roster. Defaults to 24h.
	Interval time.Duration `yaml:"interval"`
	// SkipInitialRun suppresses the pass normally run at startup.
	SkipInitialRun bool `yaml:"skip_initial_run"`
	// DelayMin and DelayMax bound the randomized pause between profile
	// visits. Defaults: 3s and 8s.
	DelayMin time.Duration `yaml:"delay_min"`
	DelayMax time.Duration `yaml:"delay_max"`
	// Visibility is how long a claimed check job stays invisible before
	// the queue re-offers it. Defaults to 5m.
	Visibility time.Duration `yaml:"visibility"`
	// PollInterval is how often the worker looks for queued jobs.
	// Defaults to 5s.
	PollInterval time.Duration `yaml:"poll_interval"`
	// CaptureMaxBytes truncates the archived markdown rendering of each
	// capture. Defaults to 256 KiB.
	CaptureMaxBytes int `yaml:"capture_max_bytes"`
}

// BrowserConfig configures the scraping session. Unset timeouts fall back
// to the session package defaults.
type BrowserConfig struct {
	// RemoteURL attaches to an already-running browser over the DevTools
	// protocol instead of launching one.
	RemoteURL string `yaml:"remote_url"`
	Headless  bool   `yaml:"headless"`

	Email    string `yaml:"-"`
	Password string `yaml:"-"`

	CookieFile    string        `yaml:"cookie_file"`
	NavTimeout    time.Duration `yaml:"nav_timeout"`
	SettleDelay   time.Duration `yaml:"settle_delay"`
	ChallengeWait time.Duration `yaml:"challenge_wait"`
}

// NotifyConfig selects and configures the delivery channels.
type NotifyConfig struct {
	// Mode is one of channels.ModeConsole, ModeEmail, ModeBoth.
	// Defaults to both.
	Mode    string                 `yaml:"mode"`
	Email   channels.EmailConfig   `yaml:"email"`
	Webhook channels.WebhookConfig `yaml:"webhook"`
}

// APIConfig configures the HTTP surface.
type APIConfig struct {
	// Addr is the listen address for serve mode. Defaults to ":8470".
	Addr string `yaml:"addr"`
	// AdminUser and AdminPassHash guard the mutating routes with basic
	// auth. AdminPassHash is a bcrypt hash, supplied via environment.
	// While either is empty the mutating routes refuse all requests.
	AdminUser     string `yaml:"admin_user"`
	AdminPassHash string `yaml:"-"`
}

func (c *Config) defaults() {
	if c.DataDir == "" {
		c.DataDir = "data"
	}
	if c.DBFile == "" {
		c.DBFile = "vigie.db"
	}
	if c.Check.Interval <= 0 {
		c.Check.Interval = 24 * time.Hour
	}
	if c.Check.DelayMin <= 0 {
		c.Check.DelayMin = 3 * time.Second
	}
	if c.Check.DelayMax < c.Check.DelayMin {
		c.Check.DelayMax = c.Check.DelayMin + 5*time.Second
	}
	if c.Check.Visibility <= 0 {
		c.Check.Visibility = 5 * time.Minute
	}
	if c.Check.PollInterval <= 0 {
		c.Check.PollInterval = 5 * time.Second
	}
	if c.Check.CaptureMaxBytes <= 0 {
		c.Check.CaptureMaxBytes = 256 * 1024
	}
	if c.Notify.Mode == "" {
		c.Notify.Mode = channels.ModeBoth
	}
	if c.Notify.Email.Host == "" {
		c.Notify.Email.Host = "smtp.gmail.com"
	}
	if c.API.Addr == "" {
		c.API.Addr = ":8470"
	}
	c.Selectors.Defaults()
	c.Tokens.Defaults()
}

// DefaultConfig returns a config with every field at its default.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.defaults()
	return cfg
}

// LoadConfigFile reads a YAML config file. Unset fields fall back to their
// defaults, so a partial file is enough.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	cfg.defaults()
	return cfg, nil
}

// LoadEnv overlays environment variables onto the config. The variable
// names match the original monitor's .env so existing deployments carry
// over unchanged. Unset variables leave the config untouched.
func (c *Config) LoadEnv() {
	c.Browser.Email = envOr("LINKEDIN_EMAIL", c.Browser.Email)
	c.Browser.Password = envOr("LINKEDIN_PASSWORD", c.Browser.Password)
	if v := os.Getenv("HEADLESS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Browser.Headless = b
		}
	}

	if n, ok := envInt("CHECK_INTERVAL_HOURS"); ok && n > 0 {
		c.Check.Interval = time.Duration(n) * time.Hour
	}
	if n, ok := envInt("REQUEST_DELAY_MIN"); ok && n > 0 {
		c.Check.DelayMin = time.Duration(n) * time.Second
	}
	if n, ok := envInt("REQUEST_DELAY_MAX"); ok && n > 0 {
		c.Check.DelayMax = time.Duration(n) * time.Second
	}

	c.Notify.Email.Host = envOr("SMTP_SERVER", c.Notify.Email.Host)
	if n, ok := envInt("SMTP_PORT"); ok && n > 0 {
		c.Notify.Email.Port = n
	}
	c.Notify.Email.Username = envOr("SMTP_USERNAME", c.Notify.Email.Username)
	c.Notify.Email.Password = envOr("SMTP_PASSWORD", c.Notify.Email.Password)
	c.Notify.Email.To = envOr("NOTIFICATION_EMAIL", c.Notify.Email.To)

	c.Notify.Webhook.URL = envOr("WEBHOOK_URL", c.Notify.Webhook.URL)
	c.Notify.Webhook.Secret = envOr("WEBHOOK_SECRET", c.Notify.Webhook.Secret)

	c.API.AdminUser = envOr("VIGIE_ADMIN_USER", c.API.AdminUser)
	c.API.AdminPassHash = envOr("VIGIE_ADMIN_PASSWORD_HASH", c.API.AdminPassHash)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}
