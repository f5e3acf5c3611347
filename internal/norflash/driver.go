// Package norflash is the low-level SPI NOR driver: JEDEC probing,
// page-program, sector-erase and chip-erase over a periph.io SPI
// connection, with explicit per-operation timeouts and no retries.
package norflash

import (
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/spi"

	"github.com/tamzrod/scope-bridge/internal/bridgeerr"
)

// Driver talks to one SPI NOR chip over a connection and a dedicated
// chip-select pin. Every operation acquires and releases the bus (via
// CS) on every exit path, including errors.
type Driver struct {
	conn spi.Conn
	cs   gpio.PinOut

	sleep func(time.Duration) // overridable in tests
}

func New(conn spi.Conn, cs gpio.PinOut) *Driver {
	return &Driver{conn: conn, cs: cs, sleep: time.Sleep}
}

func (d *Driver) tx(w, r []byte) error {
	if err := d.cs.Out(gpio.Low); err != nil {
		return err
	}
	defer d.cs.Out(gpio.High)
	return d.conn.Tx(w, r)
}

// Probe reads the JEDEC manufacturer/device/capacity bytes. The router
// treats an all-zero or all-one reply as "no device".
func (d *Driver) Probe() (JedecID, error) {
	buf := make([]byte, 4)
	buf[0] = cmdJedecID
	if err := d.tx(buf, buf); err != nil {
		return JedecID{}, bridgeerr.Wrap("norflash.probe", bridgeerr.IoError, err)
	}
	id := JedecID{Manufacturer: buf[1], MemoryType: buf[2], Capacity: buf[3]}
	if noDevice(id.Raw()) {
		return id, bridgeerr.New("norflash.probe", bridgeerr.NotReady)
	}
	return id, nil
}

// Read reads len(buf) bytes starting at addr.
func (d *Driver) Read(addr uint32, buf []byte) error {
	cmd := []byte{cmdRead, byte(addr >> 16), byte(addr >> 8), byte(addr)}
	tx := make([]byte, len(cmd)+len(buf))
	copy(tx, cmd)
	rx := make([]byte, len(tx))
	if err := d.tx(tx, rx); err != nil {
		return bridgeerr.Wrap("norflash.read", bridgeerr.IoError, err)
	}
	copy(buf, rx[len(cmd):])
	return nil
}

func (d *Driver) writeEnable() error {
	return d.tx([]byte{cmdWriteEnable}, make([]byte, 1))
}

func (d *Driver) readStatus1() (byte, error) {
	tx := []byte{cmdReadStatus1, 0}
	rx := make([]byte, 2)
	if err := d.tx(tx, rx); err != nil {
		return 0, err
	}
	return rx[1], nil
}

// waitReady polls READ_STATUS_1 until the busy bit clears or timeout
// elapses, yielding one tick between polls.
func (d *Driver) waitReady(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		status, err := d.readStatus1()
		if err != nil {
			return bridgeerr.Wrap("norflash.wait", bridgeerr.IoError, err)
		}
		if status&statusBusy == 0 {
			return nil
		}
		if time.Now().After(deadline) {
			return bridgeerr.New("norflash.wait", bridgeerr.Timeout)
		}
		d.sleep(pollInterval)
	}
}

// WritePage programs up to 256 bytes that do not cross a page boundary.
func (d *Driver) WritePage(addr uint32, buf []byte) error {
	if len(buf) > PageSize {
		return bridgeerr.New("norflash.write_page", bridgeerr.InvalidName)
	}
	if int(addr%PageSize)+len(buf) > PageSize {
		return bridgeerr.New("norflash.write_page", bridgeerr.InvalidName)
	}

	if err := d.writeEnable(); err != nil {
		return bridgeerr.Wrap("norflash.write_page", bridgeerr.IoError, err)
	}

	cmd := []byte{cmdPageProgram, byte(addr >> 16), byte(addr >> 8), byte(addr)}
	tx := append(append([]byte{}, cmd...), buf...)
	rx := make([]byte, len(tx))
	if err := d.tx(tx, rx); err != nil {
		return bridgeerr.Wrap("norflash.write_page", bridgeerr.IoError, err)
	}

	return d.waitReady(pageProgramTimeout)
}

// EraseSector erases the 4 KiB sector at the given sector index.
func (d *Driver) EraseSector(sectorIndex uint32) error {
	if sectorIndex >= TotalSectors {
		return bridgeerr.New("norflash.erase_sector", bridgeerr.InvalidName)
	}
	addr := sectorIndex * SectorSize

	if err := d.writeEnable(); err != nil {
		return bridgeerr.Wrap("norflash.erase_sector", bridgeerr.IoError, err)
	}

	cmd := []byte{cmdSectorErase, byte(addr >> 16), byte(addr >> 8), byte(addr)}
	if err := d.tx(cmd, make([]byte, len(cmd))); err != nil {
		return bridgeerr.Wrap("norflash.erase_sector", bridgeerr.IoError, err)
	}

	return d.waitReady(sectorEraseTimeout)
}

// EraseChip erases the entire device. Nothing else in this module calls
// it: norfs.Format erases only the directory sector, and ordinary
// writes erase sector by sector.
func (d *Driver) EraseChip(timeout time.Duration) error {
	if err := d.writeEnable(); err != nil {
		return bridgeerr.Wrap("norflash.erase_chip", bridgeerr.IoError, err)
	}
	if err := d.tx([]byte{cmdChipErase}, make([]byte, 1)); err != nil {
		return bridgeerr.Wrap("norflash.erase_chip", bridgeerr.IoError, err)
	}
	return d.waitReady(timeout)
}
