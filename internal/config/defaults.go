package config

func Defaults() *Config {
	return &Config{
		Language: "ru",
		DataDir:  DefaultConfigDir(),
		Settings: SettingsConfig{
			BlockCommandBlocks: true,
			Namespaces:         []string{"minecraft", "bukkit"},
			AutomatedLabel:     "CommandBlock",
		},
		Logging: LoggingConfig{
			Console:  true,
			File:     true,
			FileName: "logs.txt",
			Level:    "info",
			Format:   "text",
			SQLite: SQLiteConfig{
				Enabled: false,
				Path:    "audit.db",
			},
			Telegram: TelegramConfig{
				Enabled:       false,
				Kinds:         []string{"BLOCKED_CMD", "BLOCKED_CMD_AUTOMATED"},
				RatePerMinute: 20,
				Burst:         5,
			},
		},
		Host: HostConfig{
			Workers:   4,
			QueueSize: 100,
			History:   256,
			HTTP: HTTPHostConfig{
				Enabled: false,
				Addr:    "127.0.0.1:8765",
				Path:    "/v1/events",
			},
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    "127.0.0.1:9464",
		},
	}
}

var defaultMessages = map[string]Messages{
	"ru": {
		"op-grant":        "&6Вы получили OP-статус с ограниченными правами!",
		"command-blocked": "&cЭта команда заблокирована!",
		"player-added":    "&aИгрок %s добавлен в белый список!",
		"player-exists":   "&eИгрок уже в белом списке!",
		"no-permission":   "&cНедостаточно прав!",
		"usage":           "&cИспользование: /allowplayer <ник>",
	},
	"en": {
		"op-grant":        "&6You have been granted OP status with restricted commands!",
		"command-blocked": "&cThis command is blocked!",
		"player-added":    "&aPlayer %s added to the allow-list!",
		"player-exists":   "&ePlayer is already on the allow-list!",
		"no-permission":   "&cYou do not have permission!",
		"usage":           "&cUsage: /allowplayer <name>",
	},
}

// DefaultMessage returns the built-in template for lang and key. Unknown
// languages use the Russian catalogue, matching the default language.
func DefaultMessage(lang, key string) string {
	if msgs, ok := defaultMessages[lang]; ok {
		if tmpl, ok := msgs[key]; ok {
			return tmpl
		}
	}
	return defaultMessages["ru"][key]
}

// DefaultMessages returns a copy of the built-in catalogue for lang.
func DefaultMessages(lang string) Messages {
	src, ok := defaultMessages[lang]
	if !ok {
		src = defaultMessages["ru"]
	}
	out := make(Messages, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
