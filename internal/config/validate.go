package config

import "fmt"

// Validate checks configuration correctness. It performs declarative
// validation only and MUST NOT mutate configuration.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config: nil config")
	}

	p := cfg.Bridge.Pins
	if p.Strobe == "" {
		return fmt.Errorf("pins: strobe is required")
	}
	for i, name := range p.Data {
		if name == "" {
			return fmt.Errorf("pins: data[%d] is required", i)
		}
	}
	if p.Busy == "" || p.NAck == "" {
		return fmt.Errorf("pins: busy and nack are required")
	}

	if cfg.Bridge.Nor.Enabled && p.NorChipSelect == "" {
		return fmt.Errorf("nor: enabled but nor_chip_select pin is not set")
	}
	if cfg.Bridge.Sd.Enabled && p.SdCardDetect == "" {
		return fmt.Errorf("sd: enabled but sd_card_detect pin is not set")
	}
	if cfg.Bridge.Sd.Enabled && p.SdChipSelect == "" {
		return fmt.Errorf("sd: enabled but sd_chip_select pin is not set")
	}

	if cfg.Bridge.Hex.Enabled {
		if cfg.Bridge.Hex.BaudRate <= 0 {
			return fmt.Errorf("hex: baud_rate must be positive")
		}
		if cfg.Bridge.Hex.LineStride < 0 {
			return fmt.Errorf("hex: line_stride must not be negative")
		}
	}

	switch cfg.Bridge.Router.DefaultSelection {
	case "", "auto", "sd", "nor", "hex":
	default:
		return fmt.Errorf("router: unknown default_selection %q", cfg.Bridge.Router.DefaultSelection)
	}

	rl := cfg.Bridge.RunLoop
	if rl.StatusIntervalMs < 0 || rl.OverflowIntervalMs < 0 || rl.LowMemIntervalMs < 0 {
		return fmt.Errorf("run_loop: interval fields must not be negative")
	}
	if rl.ErrorThreshold < 0 {
		return fmt.Errorf("run_loop: error_threshold must not be negative")
	}

	if !cfg.Bridge.Nor.Enabled && !cfg.Bridge.Sd.Enabled && !cfg.Bridge.Hex.Enabled {
		return fmt.Errorf("config: at least one storage backend must be enabled")
	}

	return nil
}
