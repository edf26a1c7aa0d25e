package config

func Defaults() *Config {
	return &Config{
		Telegram: TelegramConfig{
			ParseMode:   "Markdown",
			PollTimeout: 30,
		},
		Lookup: LookupConfig{
			Region:         "IN",
			Endpoint:       "https://search5-noneu.truecaller.com/v2/search",
			TimeoutSeconds: 30,
		},
		Dispatcher: DispatcherConfig{
			MaxConcurrent: 10,
			BusBuffer:     100,
		},
		Audit: AuditConfig{
			Enabled: false,
			DBPath:  "~/.callerbot/audit.db",
		},
		Metrics: MetricsConfig{
			Enabled:  false,
			Addr:     "127.0.0.1:9090",
			Endpoint: "/metrics",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}
