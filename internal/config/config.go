package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	AppConfig     *AppConfig
	ServerConfig  *ServerConfig
	BrowserConfig *BrowserConfig
	FlowConfig    *FlowConfig
}

type AppConfig struct {
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	Debug    bool   `envconfig:"DEBUG" default:"false"`
}

type ServerConfig struct {
	Addr            string        `envconfig:"SERVER_ADDR" default:":8080"`
	APIKey          string        `envconfig:"SERVER_API_KEY" default:""`
	ShutdownTimeout time.Duration `envconfig:"SERVER_SHUTDOWN_TIMEOUT" default:"15s"`
}

type BrowserConfig struct {
	Headless    bool   `envconfig:"BROWSER_HEADLESS" default:"false"`
	SlowMo      int    `envconfig:"BROWSER_SLOW_MO" default:"0"`
	Timeout     int    `envconfig:"BROWSER_TIMEOUT" default:"30000"`
	UserDataDir string `envconfig:"BROWSER_USER_DATA_DIR" default:"./browser-data"`
	DebugURL    string `envconfig:"BROWSER_DEBUG_URL" default:"http://127.0.0.1:9222"`
}

// FlowConfig pins down the target site surface. Everything that depends on
// the site's markup or URL scheme is kept here so a UI change is a config
// change, not a code change.
type FlowConfig struct {
	BaseURL           string `envconfig:"FLOW_BASE_URL" default:"https://labs.google/fx/tools/flow"`
	ProjectURLPattern string `envconfig:"FLOW_PROJECT_URL_PATTERN" default:"/project/"`
	VideoURLPattern   string `envconfig:"FLOW_VIDEO_URL_PATTERN" default:"^https://[a-z0-9.-]*(?:googleusercontent|googleapis)\\.com/.+"`
	PromptSelector    string `envconfig:"FLOW_PROMPT_SELECTOR" default:"textarea#PINHOLE_TEXT_AREA_ELEMENT_ID, textarea"`

	MaxWait            time.Duration `envconfig:"FLOW_MAX_WAIT" default:"8m"`
	PollInterval       time.Duration `envconfig:"FLOW_POLL_INTERVAL" default:"8s"`
	MaxRetries         int           `envconfig:"FLOW_MAX_RETRIES" default:"2"`
	StableCycles       int           `envconfig:"FLOW_STABLE_CYCLES" default:"3"`
	RetryAncestorDepth int           `envconfig:"FLOW_RETRY_ANCESTOR_DEPTH" default:"10"`
}

func GetConfig() (*Config, error) {
	_ = godotenv.Load()

	var conf Config

	if err := envconfig.Process("", &conf); err != nil {
		return nil, fmt.Errorf("read config from env vars: %w", err)
	}

	return &conf, nil
}
