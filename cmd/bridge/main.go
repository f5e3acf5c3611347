// cmd/bridge is the composition root: it loads configuration, resolves
// every GPIO/SPI/serial resource, wires the parallel receiver, the
// three storage backends, the router, and the run loop, then drives
// the cooperative scheduler forever. No other package in this module
// constructs hardware resources directly.
package main

import (
	"log"
	"os"
	"time"

	"go.bug.st/serial"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"

	"github.com/tamzrod/scope-bridge/internal/config"
	"github.com/tamzrod/scope-bridge/internal/hexstream"
	"github.com/tamzrod/scope-bridge/internal/norflash"
	"github.com/tamzrod/scope-bridge/internal/observer"
	"github.com/tamzrod/scope-bridge/internal/parallel"
	"github.com/tamzrod/scope-bridge/internal/queue"
	"github.com/tamzrod/scope-bridge/internal/router"
	"github.com/tamzrod/scope-bridge/internal/runloop"
	"github.com/tamzrod/scope-bridge/internal/sdbackend"
	"github.com/tamzrod/scope-bridge/internal/sdspi"
)

// receiveQueueCapacity is the ByteQueue's fixed size: a handful of
// IEEE-1284 byte-times of slack between the ISR and the run loop.
const receiveQueueCapacity = 512

// hexReadTimeout bounds both the serial port's own OS-level read
// deadline and the hexstream.Receive budget built on top of it; they
// must share one value or the port can block past what Receive thinks
// it waited for.
const hexReadTimeout = 30 * time.Second

func main() {
	if len(os.Args) < 2 {
		log.Fatal("usage: bridge <config.yaml>")
	}

	cfg, err := config.Load(os.Args[1])
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	if err := config.Validate(cfg); err != nil {
		log.Fatalf("config validation failed: %v", err)
	}
	config.Normalize(cfg)

	if _, err := host.Init(); err != nil {
		log.Fatalf("periph host init failed: %v", err)
	}

	pins := resolvePins(cfg.Bridge.Pins)
	q := queue.New(receiveQueueCapacity)
	receiver := parallel.New(pins, q, parallel.DefaultTiming())

	// The strobe watch is the ISR stand-in: it owns the single
	// statically-addressable Receiver and must already be waiting on
	// the edge before the run loop (and, on real hardware, interrupts)
	// starts. main never returns, so there is nothing to stop it with.
	go receiver.WatchStrobe(nil)

	var sdBackend router.Backend
	if cfg.Bridge.Sd.Enabled {
		sdBackend = buildSdBackend(cfg)
	}

	var norBackend router.Backend
	if cfg.Bridge.Nor.Enabled {
		norBackend = buildNorBackend(cfg)
	}

	var hexBackend router.Backend
	if cfg.Bridge.Hex.Enabled {
		hexBackend = buildHexBackend(cfg)
	}

	r := router.New(sdBackend, norBackend, hexBackend)
	r.Update()
	applyDefaultSelection(r, cfg.Bridge.Router.DefaultSelection)

	obs := observer.NewLogger("bridge")
	rlCfg := runloop.Config{
		StatusInterval:   time.Duration(cfg.Bridge.RunLoop.StatusIntervalMs) * time.Millisecond,
		OverflowInterval: time.Duration(cfg.Bridge.RunLoop.OverflowIntervalMs) * time.Millisecond,
		LowMemInterval:   time.Duration(cfg.Bridge.RunLoop.LowMemIntervalMs) * time.Millisecond,
		LowMemWatermark:  cfg.Bridge.RunLoop.LowMemWatermark,
		ErrorThreshold:   cfg.Bridge.RunLoop.ErrorThreshold,
	}
	loop := runloop.New(receiver, r, obs, rlCfg, freeHeapBytes)

	log.Printf("bridge running; selected backend = %s", r.Selected())
	for {
		loop.Tick()
		if loop.ErrorLatched() {
			log.Print("bridge: persistent error threshold exceeded, entering error-indication mode")
		}
		time.Sleep(time.Millisecond)
	}
}

func resolvePins(p config.PinsConfig) parallel.Pins {
	var data [8]gpio.PinIn
	for i, name := range p.Data {
		data[i] = mustGPIOIn(name)
	}
	return parallel.Pins{
		Strobe:    mustGPIOIn(p.Strobe),
		Data:      data,
		Busy:      mustGPIOOut(p.Busy),
		NAck:      mustGPIOOut(p.NAck),
		NError:    mustGPIOOut(p.NError),
		Select:    mustGPIOOut(p.Select),
		PaperOut:  mustGPIOOut(p.PaperOut),
		NAutoFeed: optionalGPIOIn(p.NAutoFeed),
		NInit:     optionalGPIOIn(p.NInit),
		NSelectIn: optionalGPIOIn(p.NSelectIn),
	}
}

func mustGPIOIn(name string) gpio.PinIn {
	p := gpioreg.ByName(name)
	if p == nil {
		log.Fatalf("pins: unknown gpio %q", name)
	}
	if err := p.In(gpio.PullNoChange, gpio.BothEdges); err != nil {
		log.Fatalf("pins: configure %q as input: %v", name, err)
	}
	return p
}

func mustGPIOOut(name string) gpio.PinOut {
	if name == "" {
		return nil
	}
	p := gpioreg.ByName(name)
	if p == nil {
		log.Fatalf("pins: unknown gpio %q", name)
	}
	return p
}

func optionalGPIOIn(name string) gpio.PinIn {
	if name == "" {
		return nil
	}
	return mustGPIOIn(name)
}

func buildSdBackend(cfg *config.Config) router.Backend {
	port, err := spireg.Open(cfg.Bridge.Sd.SpiBus)
	if err != nil {
		log.Fatalf("sd: open spi bus %q: %v", cfg.Bridge.Sd.SpiBus, err)
	}
	conn, err := port.Connect(25*physic.MegaHertz, spi.Mode0, 8)
	if err != nil {
		log.Fatalf("sd: spi connect: %v", err)
	}
	cs := mustGPIOOut(cfg.Bridge.Pins.SdChipSelect)
	dev, err := sdspi.New(conn, cs)
	if err != nil {
		log.Fatalf("sd: card init: %v", err)
	}

	sense := sdbackend.Sense{
		CardDetect:   optionalGPIOIn(cfg.Bridge.Pins.SdCardDetect),
		WriteProtect: optionalGPIOIn(cfg.Bridge.Pins.SdWriteProtect),
	}
	b := sdbackend.New(dev, sense)
	return router.NewSdAdapter(b)
}

func buildNorBackend(cfg *config.Config) router.Backend {
	port, err := spireg.Open(cfg.Bridge.Nor.SpiBus)
	if err != nil {
		log.Fatalf("nor: open spi bus %q: %v", cfg.Bridge.Nor.SpiBus, err)
	}
	conn, err := port.Connect(20*physic.MegaHertz, spi.Mode0, 8)
	if err != nil {
		log.Fatalf("nor: spi connect: %v", err)
	}
	cs := mustGPIOOut(cfg.Bridge.Pins.NorChipSelect)
	drv := norflash.New(conn, cs)
	return router.NewNorAdapter(drv)
}

func buildHexBackend(cfg *config.Config) router.Backend {
	mode := &serial.Mode{BaudRate: cfg.Bridge.Hex.BaudRate}
	port, err := serial.Open(cfg.Bridge.Hex.Port, mode)
	if err != nil {
		log.Fatalf("hex: open serial port %q: %v", cfg.Bridge.Hex.Port, err)
	}
	if err := port.SetReadTimeout(hexReadTimeout); err != nil {
		log.Fatalf("hex: set serial read timeout: %v", err)
	}
	b := hexstream.New(port)
	b.SetLineStride(cfg.Bridge.Hex.LineStride)
	b.SetDebug(cfg.Bridge.Hex.Debug)
	return router.NewHexAdapter(b, int(hexReadTimeout.Milliseconds()))
}

func applyDefaultSelection(r *router.Router, sel string) {
	switch sel {
	case "sd":
		r.Select(router.Sd)
	case "nor":
		r.Select(router.Nor)
	case "hex":
		r.Select(router.Hex)
	default:
		r.Select(router.Auto)
	}
}

// freeHeapBytes reports available data memory for the run loop's
// low-memory watchdog. On hosted builds there is no meaningful analog
// to a microcontroller's static RAM budget, so this reports a large
// constant; a cross-compiled target replaces this with a real
// linker-symbol-derived figure.
func freeHeapBytes() uint32 {
	return 1 << 16
}
