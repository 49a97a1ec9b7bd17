package config

// Config is the on-disk configuration (JSON, or YAML coerced to JSON).
// Unknown keys are rejected.
type Config struct {
	ESI      ESIConfig      `json:"esi"`
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Poll     PollConfig     `json:"poll"`
	Dispatch DispatchConfig `json:"dispatch"`
	Storage  StorageConfig  `json:"storage"`
	HTTP     HTTPConfig     `json:"http"`
}

// ESIConfig holds the SSO application and the corporation to watch.
type ESIConfig struct {
	ClientID      string   `json:"client_id"`
	ClientSecret  string   `json:"client_secret"`
	CallbackURL   string   `json:"callback_url"`
	Scopes        []string `json:"scopes,omitempty"`
	CorporationID int64    `json:"corporation_id"`
	BaseURL       string   `json:"base_url,omitempty"`
	UserAgent     string   `json:"user_agent,omitempty"`
	// Timeout is a Go duration string (default "30s").
	Timeout string `json:"timeout,omitempty"`
}

// ChatConfig addresses a chat and, for forum groups, a topic inside it.
type ChatConfig struct {
	ChatID   int64 `json:"chat_id"`
	ThreadID int   `json:"thread_id,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// PollTimeout is a Go duration string (e.g. "10s").
	PollTimeout string `json:"poll_timeout,omitempty"`
	// Commands enables the /status command in the list and alert chats.
	Commands bool `json:"commands,omitempty"`

	// ListChat holds the rolling structure list.
	ListChat ChatConfig `json:"list_chat"`
	// AlertChat receives structure alerts and notifications.
	AlertChat ChatConfig `json:"alert_chat"`
	// LogChat receives warn+ log lines when logging.telegram is enabled.
	LogChat ChatConfig `json:"log_chat,omitempty"`
	// AlertPrefix is HTML sent ahead of every alert batch (e.g. a mention).
	AlertPrefix string `json:"alert_prefix,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// PollConfig controls the two poll loops.
//
// Defaults: full_interval "60s", event_interval "300s",
// credential_wait_interval "2s", credential_wait_attempts 150.
type PollConfig struct {
	FullInterval           string `json:"full_interval,omitempty"`
	EventInterval          string `json:"event_interval,omitempty"`
	CredentialWaitInterval string `json:"credential_wait_interval,omitempty"`
	CredentialWaitAttempts int    `json:"credential_wait_attempts,omitempty"`
}

// DispatchConfig controls outbound pacing.
type DispatchConfig struct {
	RatePerSec    int    `json:"rate_per_sec,omitempty"`
	RetryMax      int    `json:"retry_max,omitempty"`
	RetryBase     string `json:"retry_base,omitempty"`
	RetryMaxDelay string `json:"retry_max_delay,omitempty"`
	SendTimeout   string `json:"send_timeout,omitempty"`
}

// StorageConfig selects the persistence driver.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./data/structwatch" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// HTTPConfig controls the SSO callback and metrics listener.
type HTTPConfig struct {
	Addr string `json:"addr,omitempty"` // default ":8080"
	// Pprof mounts /debug/pprof. PprofToken, when set, must be sent as a
	// bearer token.
	Pprof      bool   `json:"pprof,omitempty"`
	PprofToken string `json:"pprof_token,omitempty"`
}
