package config

import (
	"encoding/json"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	PlatformAndroid = "android"
	PlatformIOS     = "ios"
)

const defaultAPIBaseURL = "http://localhost:9090/bykerack"

type Config struct {
	APIBaseURL       string
	AuthEmail        string
	AuthPassword     string
	APICredsFile     string
	BikeRackID       int
	EmployeeDocument string
	StationID        string

	Platform       string
	TorchOnStartup bool
	AssumeReady    bool
	WarmupDelay    time.Duration
	SettleDelay    time.Duration

	FrameDir         string
	CaptureCommand   string
	FrameRate        float64
	CameraPermission string
	MaxDenials       int

	MetricsPort        int
	LogLevel           string
	HTTPTimeout        time.Duration
	GoogleProjectID    string
	IntentSubscription string
	EventTopic         string
	CredentialsFile    string
}

func Load() *Config {
	platform := strings.ToLower(strings.TrimSpace(getEnv("RACKSCAN_PLATFORM", PlatformAndroid)))
	if platform != PlatformAndroid && platform != PlatformIOS {
		log.Warn().Str("platform", platform).Msg("config: unknown RACKSCAN_PLATFORM; using android")
		platform = PlatformAndroid
	}
	hostname, _ := os.Hostname()

	cfg := &Config{
		APIBaseURL:       strings.TrimSpace(getEnv("RACKSCAN_API_BASE_URL", defaultAPIBaseURL)),
		AuthEmail:        strings.TrimSpace(os.Getenv("RACKSCAN_AUTH_EMAIL")),
		AuthPassword:     os.Getenv("RACKSCAN_AUTH_PASSWORD"),
		APICredsFile:     strings.TrimSpace(os.Getenv("RACKSCAN_CREDENTIALS_FILE")),
		BikeRackID:       getEnvInt("RACKSCAN_BIKE_RACK_ID", 1),
		EmployeeDocument: strings.TrimSpace(os.Getenv("RACKSCAN_EMPLOYEE_DOCUMENT")),
		StationID:        strings.TrimSpace(getEnv("RACKSCAN_STATION_ID", hostname)),

		Platform: platform,
		// Android drivers need the torch lit until the preview is up; iOS
		// never reports readiness before the first frame.
		TorchOnStartup: getEnvBool("RACKSCAN_TORCH_ON_STARTUP", platform == PlatformAndroid),
		AssumeReady:    getEnvBool("RACKSCAN_ASSUME_READY", platform == PlatformIOS),
		WarmupDelay:    getEnvDuration("RACKSCAN_WARMUP_DELAY", time.Second),
		SettleDelay:    getEnvDuration("RACKSCAN_SETTLE_DELAY", 500*time.Millisecond),

		FrameDir:         strings.TrimSpace(os.Getenv("RACKSCAN_FRAME_DIR")),
		CaptureCommand:   strings.TrimSpace(os.Getenv("RACKSCAN_CAPTURE_COMMAND")),
		FrameRate:        getEnvFloat("RACKSCAN_FRAME_RATE", 5),
		CameraPermission: strings.ToLower(strings.TrimSpace(getEnv("RACKSCAN_CAMERA_PERMISSION", "granted"))),
		MaxDenials:       getEnvInt("RACKSCAN_MAX_DENIALS", 2),

		MetricsPort:        getEnvInt("RACKSCAN_METRICS_PORT", 8080),
		LogLevel:           strings.TrimSpace(getEnv("RACKSCAN_LOG_LEVEL", "info")),
		HTTPTimeout:        getEnvDuration("RACKSCAN_HTTP_TIMEOUT", 10*time.Second),
		IntentSubscription: strings.TrimSpace(os.Getenv("RACKSCAN_INTENT_SUBSCRIPTION")),
		EventTopic:         strings.TrimSpace(os.Getenv("RACKSCAN_EVENT_TOPIC")),
		CredentialsFile:    strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS")),
	}

	if cfg.APICredsFile != "" {
		email, password, err := apiCredentialsFromFile(cfg.APICredsFile)
		if err != nil {
			log.Warn().Err(err).Str("file", cfg.APICredsFile).Msg("config: API credentials file unreadable")
		} else {
			cfg.AuthEmail = firstNonEmpty(cfg.AuthEmail, email)
			cfg.AuthPassword = firstNonEmpty(cfg.AuthPassword, password)
		}
	}
	if cfg.AuthEmail == "" || cfg.AuthPassword == "" {
		log.Warn().Msg("config: API credentials not set; set RACKSCAN_AUTH_EMAIL and RACKSCAN_AUTH_PASSWORD or RACKSCAN_CREDENTIALS_FILE")
	}
	if cfg.EmployeeDocument == "" {
		log.Warn().Msg("config: RACKSCAN_EMPLOYEE_DOCUMENT not set")
	}
	if cfg.FrameDir == "" && cfg.CaptureCommand == "" {
		log.Warn().Msg("config: no camera configured; set RACKSCAN_FRAME_DIR or RACKSCAN_CAPTURE_COMMAND")
	}

	if cfg.IntentSubscription != "" || cfg.EventTopic != "" {
		cfg.GoogleProjectID = getGoogleProjectID(cfg.CredentialsFile, strings.TrimSpace(getEnv("RACKSCAN_PUBSUB_PROJECT_ID", "")))
		if cfg.GoogleProjectID == "" {
			log.Warn().Msg("config: Google project ID not resolved; set GOOGLE_APPLICATION_CREDENTIALS or GOOGLE_PROJECT_ID or RACKSCAN_PUBSUB_PROJECT_ID")
		}
	}
	return cfg
}

func (c *Config) HTTPAddr() string {
	return net.JoinHostPort("0.0.0.0", strconv.Itoa(c.MetricsPort))
}

// SettingsTarget is the deep link that opens the app's OS settings page.
func (c *Config) SettingsTarget() string {
	if c.Platform == PlatformIOS {
		return "app-settings:"
	}
	return "android.settings.APPLICATION_DETAILS_SETTINGS"
}

// Redacted returns a view safe for logging
func (c *Config) Redacted() map[string]any {
	return map[string]any{
		"apiBaseURL":          c.APIBaseURL,
		"authEmail":           c.AuthEmail,
		"authPasswordSet":     c.AuthPassword != "",
		"bikeRackID":          c.BikeRackID,
		"employeeDocumentSet": c.EmployeeDocument != "",
		"stationID":           c.StationID,
		"platform":            c.Platform,
		"torchOnStartup":      c.TorchOnStartup,
		"assumeReady":         c.AssumeReady,
		"warmupDelay":         c.WarmupDelay.String(),
		"settleDelay":         c.SettleDelay.String(),
		"frameDir":            c.FrameDir,
		"captureCommand":      c.CaptureCommand,
		"frameRate":           c.FrameRate,
		"cameraPermission":    c.CameraPermission,
		"metricsPort":         c.MetricsPort,
		"logLevel":            c.LogLevel,
		"projectID":           c.GoogleProjectID,
		"intentSubscription":  c.IntentSubscription,
		"eventTopic":          c.EventTopic,
		"credentialsProvided": c.CredentialsFile != "",
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		iv, err := strconv.Atoi(v)
		if err == nil {
			return iv
		}
		log.Warn().Str("key", key).Str("value", v).Msg("config: invalid int; using default")
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		fv, err := strconv.ParseFloat(v, 64)
		if err == nil && fv > 0 {
			return fv
		}
		log.Warn().Str("key", key).Str("value", v).Msg("config: invalid number; using default")
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		bv, err := strconv.ParseBool(v)
		if err == nil {
			return bv
		}
		log.Warn().Str("key", key).Str("value", v).Msg("config: invalid bool; using default")
	}
	return def
}

// getEnvDuration accepts Go durations ("750ms") or bare milliseconds ("750").
func getEnvDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	if ms, err := strconv.Atoi(v); err == nil && ms >= 0 {
		return time.Duration(ms) * time.Millisecond
	}
	if d, err := time.ParseDuration(v); err == nil && d >= 0 {
		return d
	}
	log.Warn().Str("key", key).Str("value", v).Msg("config: invalid duration; using default")
	return def
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func apiCredentialsFromFile(path string) (string, string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", "", err
	}
	var x struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.Unmarshal(b, &x); err != nil {
		return "", "", err
	}
	return strings.TrimSpace(x.Email), x.Password, nil
}

func projectIDFromCredentials(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	b, err := io.ReadAll(f)
	if err != nil {
		return "", err
	}
	var x struct {
		ProjectID string `json:"project_id"`
	}
	if err := json.Unmarshal(b, &x); err != nil {
		return "", nil
	}
	return x.ProjectID, nil
}

func getGoogleProjectID(credsFile string, explicit string) string {
	if p := strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS")); p != "" {
		if pid, err := projectIDFromCredentials(p); err == nil && pid != "" {
			log.Info().Str("credsFile", p).Msg("config: using project_id from GOOGLE_APPLICATION_CREDENTIALS")
			return strings.TrimSpace(pid)
		}
		log.Warn().Str("credsFile", p).Msg("config: project_id not found in credentials file or unreadable")
	}

	if explicit := strings.TrimSpace(explicit); explicit != "" {
		log.Info().Str("projectID", explicit).Msg("config: using RACKSCAN_PUBSUB_PROJECT_ID for Google project")
		return explicit
	}

	if v := strings.TrimSpace(firstNonEmpty(os.Getenv("GOOGLE_PROJECT_ID"), os.Getenv("GOOGLE_CLOUD_PROJECT"), os.Getenv("GCLOUD_PROJECT"))); v != "" {
		log.Info().Str("projectID", v).Msg("config: using Google project from environment")
		return v
	}

	if p := strings.TrimSpace(credsFile); p != "" {
		if pid, err := projectIDFromCredentials(p); err == nil && pid != "" {
			return strings.TrimSpace(pid)
		}
	}
	return ""
}
