package config

// Normalize applies post-validation defaults. It is allowed to mutate
// configuration and MUST be called only after Validate succeeds.
func Normalize(cfg *Config) {
	if cfg == nil {
		return
	}

	if cfg.Bridge.Hex.LineStride == 0 {
		cfg.Bridge.Hex.LineStride = 32
	}
	if cfg.Bridge.Hex.BaudRate == 0 {
		cfg.Bridge.Hex.BaudRate = 115200
	}

	if cfg.Bridge.Router.DefaultSelection == "" {
		cfg.Bridge.Router.DefaultSelection = "auto"
	}

	rl := &cfg.Bridge.RunLoop
	if rl.StatusIntervalMs == 0 {
		rl.StatusIntervalMs = 5000
	}
	if rl.OverflowIntervalMs == 0 {
		rl.OverflowIntervalMs = 5000
	}
	if rl.LowMemIntervalMs == 0 {
		rl.LowMemIntervalMs = 10000
	}
	if rl.ErrorThreshold == 0 {
		rl.ErrorThreshold = 8
	}
}
