package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"structwatch/internal/dispatch"
	"structwatch/internal/esi"
	"structwatch/internal/httpapi"
	"structwatch/internal/poller"
	"structwatch/internal/storage"
	"structwatch/internal/transport"
	"structwatch/internal/transport/telegram/adapter"
	logx "structwatch/pkg/logx"
)

// Settings is Config with defaults applied and durations parsed, split into
// the per-component configs.
type Settings struct {
	ESI      esi.Config
	Telegram adapter.Config
	LogChat  transport.Target
	Logging  logx.Config
	Poll     poller.Config
	Dispatch dispatch.Config
	Storage  storage.Config
	HTTP     httpapi.Config
}

const (
	listTargetKey  = "structures"
	alertTargetKey = "alerts"
)

// Resolve validates c and builds Settings. All problems are reported together.
func (c *Config) Resolve() (Settings, error) {
	var errs []error
	check := func(ok bool, msg string) {
		if !ok {
			errs = append(errs, errors.New(msg))
		}
	}
	dur := func(path, raw string, def time.Duration) time.Duration {
		d, err := duration(path, raw, def)
		if err != nil {
			errs = append(errs, err)
		}
		return d
	}

	check(strings.TrimSpace(c.ESI.ClientID) != "", "esi.client_id is required")
	check(strings.TrimSpace(c.ESI.ClientSecret) != "", "esi.client_secret is required")
	check(c.ESI.CorporationID > 0, "esi.corporation_id is required")
	check(strings.TrimSpace(c.Telegram.Token) != "", "telegram.token is required")
	check(c.Telegram.ListChat.ChatID != 0, "telegram.list_chat.chat_id is required")
	check(c.Telegram.AlertChat.ChatID != 0, "telegram.alert_chat.chat_id is required")
	if c.Logging.Telegram.Enabled {
		check(c.Telegram.LogChat.ChatID != 0, "telegram.log_chat.chat_id is required when logging.telegram is enabled")
	}
	check(c.Poll.CredentialWaitAttempts >= 0, "poll.credential_wait_attempts must be >= 0")
	check(c.Dispatch.RatePerSec >= 0, "dispatch.rate_per_sec must be >= 0")
	check(c.Dispatch.RetryMax >= 0, "dispatch.retry_max must be >= 0")

	switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
	case "", "file", "sqlite", "sqlite3":
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver))
	}

	listChat := target(c.Telegram.ListChat)
	alertChat := target(c.Telegram.AlertChat)
	scopes := c.ESI.Scopes
	if len(scopes) == 0 {
		scopes = esi.DefaultScopes
	}
	attempts := c.Poll.CredentialWaitAttempts
	if attempts == 0 {
		attempts = 150
	}
	storagePath := strings.TrimSpace(c.Storage.Path)
	if storagePath == "" {
		storagePath = "./data/structwatch"
	}
	addr := strings.TrimSpace(c.HTTP.Addr)
	if addr == "" {
		addr = ":8080"
	}

	s := Settings{
		ESI: esi.Config{
			BaseURL:       c.ESI.BaseURL,
			ClientID:      c.ESI.ClientID,
			ClientSecret:  c.ESI.ClientSecret,
			CallbackURL:   c.ESI.CallbackURL,
			Scopes:        scopes,
			CorporationID: c.ESI.CorporationID,
			UserAgent:     c.ESI.UserAgent,
			Timeout:       dur("esi.timeout", c.ESI.Timeout, 30*time.Second),
		},
		Telegram: adapter.Config{
			Token:        strings.TrimSpace(c.Telegram.Token),
			PollTimeout:  dur("telegram.poll_timeout", c.Telegram.PollTimeout, 10*time.Second),
			Commands:     c.Telegram.Commands,
			CommandChats: []int64{listChat.ChatID, alertChat.ChatID},
		},
		LogChat: target(c.Telegram.LogChat),
		Logging: logx.Config{
			Level:   c.Logging.Level,
			Console: c.Logging.Console,
			File:    logx.FileConfig{Enabled: c.Logging.File.Enabled, Path: c.Logging.File.Path},
			Telegram: logx.TelegramConfig{
				Enabled:    c.Logging.Telegram.Enabled,
				ThreadID:   c.Telegram.LogChat.ThreadID,
				MinLevel:   c.Logging.Telegram.MinLevel,
				RatePerSec: float64(c.Logging.Telegram.RatePerSec),
			},
		},
		Poll: poller.Config{
			FullInterval:           dur("poll.full_interval", c.Poll.FullInterval, 60*time.Second),
			EventInterval:          dur("poll.event_interval", c.Poll.EventInterval, 300*time.Second),
			CredentialWaitInterval: dur("poll.credential_wait_interval", c.Poll.CredentialWaitInterval, 2*time.Second),
			CredentialWaitAttempts: attempts,
			ListTarget:             dispatch.Target{Key: listTargetKey, To: listChat, Rolling: true},
			AlertTarget:            dispatch.Target{Key: alertTargetKey, To: alertChat},
			AlertPrefix:            c.Telegram.AlertPrefix,
		},
		Dispatch: dispatch.Config{
			RatePerSec:    c.Dispatch.RatePerSec,
			RetryMax:      c.Dispatch.RetryMax,
			RetryBase:     dur("dispatch.retry_base", c.Dispatch.RetryBase, 500*time.Millisecond),
			RetryMaxDelay: dur("dispatch.retry_max_delay", c.Dispatch.RetryMaxDelay, 10*time.Second),
			SendTimeout:   dur("dispatch.send_timeout", c.Dispatch.SendTimeout, 10*time.Second),
		},
		Storage: storage.Config{
			Driver:      c.Storage.Driver,
			Path:        storagePath,
			BusyTimeout: dur("storage.busy_timeout", c.Storage.BusyTimeout, 0),
		},
		HTTP: httpapi.Config{
			Addr:       addr,
			Pprof:      c.HTTP.Pprof,
			PprofToken: strings.TrimSpace(c.HTTP.PprofToken),
		},
	}
	if len(errs) > 0 {
		return Settings{}, errors.Join(errs...)
	}
	return s, nil
}

func target(c ChatConfig) transport.Target {
	return transport.Target{ChatID: c.ChatID, ThreadID: c.ThreadID}
}
