// Package config loads and validates the bridge's YAML configuration:
// pin assignments, chip/card parameters, backend and router policy,
// and run-loop timing. The three-stage Load -> Validate -> Normalize
// split follows the teacher's config package exactly.
package config

// Config is the root document.
type Config struct {
	Bridge BridgeConfig `yaml:"bridge"`
}

type BridgeConfig struct {
	Pins     PinsConfig     `yaml:"pins"`
	Nor      NorConfig      `yaml:"nor"`
	Sd       SdConfig       `yaml:"sd"`
	Hex      HexConfig      `yaml:"hex"`
	Router   RouterConfig   `yaml:"router"`
	RunLoop  RunLoopConfig  `yaml:"run_loop"`
}

// PinsConfig names the GPIO line for every signal the receiver, the
// NOR driver's chip-select, and the SD card's sense lines use. Names
// are opaque strings resolved to periph.io gpio.PinIO objects by the
// composition root; this package only validates shape.
type PinsConfig struct {
	Strobe    string    `yaml:"strobe"`
	Data      [8]string `yaml:"data"`
	Busy      string    `yaml:"busy"`
	NAck      string    `yaml:"nack"`
	NError    string    `yaml:"nerror"`
	Select    string    `yaml:"select"`
	PaperOut  string    `yaml:"paper_out"`
	NAutoFeed string    `yaml:"nautofeed"`
	NInit     string    `yaml:"ninit"`
	NSelectIn string    `yaml:"nselect_in"`

	NorChipSelect  string `yaml:"nor_chip_select"`
	SdChipSelect   string `yaml:"sd_chip_select"`
	SdCardDetect   string `yaml:"sd_card_detect"`
	SdWriteProtect string `yaml:"sd_write_protect"`
}

type NorConfig struct {
	Enabled  bool   `yaml:"enabled"`
	SpiBus   string `yaml:"spi_bus"`
}

type SdConfig struct {
	Enabled bool   `yaml:"enabled"`
	SpiBus  string `yaml:"spi_bus"`
}

type HexConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Port       string `yaml:"port"`
	BaudRate   int    `yaml:"baud_rate"`
	LineStride int    `yaml:"line_stride"`
	Debug      bool   `yaml:"debug"`
}

type RouterConfig struct {
	DefaultSelection string `yaml:"default_selection"` // "auto", "sd", "nor", "hex"
}

type RunLoopConfig struct {
	StatusIntervalMs   int    `yaml:"status_interval_ms"`
	OverflowIntervalMs int    `yaml:"overflow_interval_ms"`
	LowMemIntervalMs   int    `yaml:"low_mem_interval_ms"`
	LowMemWatermark    uint32 `yaml:"low_mem_watermark"`
	ErrorThreshold     int    `yaml:"error_threshold"`
}
