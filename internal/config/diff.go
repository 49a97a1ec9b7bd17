package config

import (
	"reflect"

	logx "structwatch/pkg/logx"
)

// LiveSections are applied without a restart.
var LiveSections = map[string]bool{"logging": true}

// SummarizeChange lists the changed top-level sections and safe log fields
// describing them. Secrets (tokens, client secret) are never included.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	var (
		changed []string
		attrs   []logx.Field
	)

	if !reflect.DeepEqual(oldCfg.ESI, newCfg.ESI) {
		changed = append(changed, "esi")
		attrs = append(attrs,
			logx.Int64("esi.corporation_id", newCfg.ESI.CorporationID),
			logx.Bool("esi.secret_changed", oldCfg.ESI.ClientSecret != newCfg.ESI.ClientSecret),
		)
	}
	if !reflect.DeepEqual(oldCfg.Telegram, newCfg.Telegram) {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Int64("telegram.list_chat", newCfg.Telegram.ListChat.ChatID),
			logx.Int64("telegram.alert_chat", newCfg.Telegram.AlertChat.ChatID),
			logx.Bool("telegram.token_changed", oldCfg.Telegram.Token != newCfg.Telegram.Token),
		)
	}
	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram", newCfg.Logging.Telegram.Enabled),
		)
	}
	if !reflect.DeepEqual(oldCfg.Poll, newCfg.Poll) {
		changed = append(changed, "poll")
		attrs = append(attrs,
			logx.String("poll.full_interval", newCfg.Poll.FullInterval),
			logx.String("poll.event_interval", newCfg.Poll.EventInterval),
		)
	}
	if !reflect.DeepEqual(oldCfg.Dispatch, newCfg.Dispatch) {
		changed = append(changed, "dispatch")
		attrs = append(attrs, logx.Int("dispatch.rate_per_sec", newCfg.Dispatch.RatePerSec))
	}
	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs, logx.String("storage.driver", newCfg.Storage.Driver))
	}
	if oldCfg.HTTP != newCfg.HTTP {
		changed = append(changed, "http")
		attrs = append(attrs, logx.String("http.addr", newCfg.HTTP.Addr))
	}
	return changed, attrs
}

// RestartRequired returns the changed sections that only take effect after
// a restart.
func RestartRequired(changed []string) []string {
	var out []string
	for _, s := range changed {
		if !LiveSections[s] {
			out = append(out, s)
		}
	}
	return out
}
