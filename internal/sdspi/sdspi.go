// Package sdspi implements the SD card SPI-mode command protocol: the
// GO_IDLE/SEND_IF_COND/init handshake plus single-block read and
// write, wrapped as a github.com/soypat/fat BlockDevice so the FAT
// library can mount a card the same way it would mount any other
// block device. Command framing follows the standard SD simplified
// SPI protocol, grounded in the command-dispatch shape of the
// SD-over-SPI controller model this corpus carries, adapted here to
// drive a real periph.io SPI connection instead of a disk image.
package sdspi

import (
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/spi"

	"github.com/tamzrod/scope-bridge/internal/bridgeerr"
)

const (
	cmdGoIdle       = 0  // CMD0
	cmdSendIfCond   = 8  // CMD8
	cmdSetBlockLen  = 16 // CMD16
	cmdReadBlock    = 17 // CMD17
	cmdWriteBlock   = 24 // CMD24
	cmdEraseStart   = 32 // CMD32
	cmdEraseEnd     = 33 // CMD33
	cmdErase        = 38 // CMD38
	cmdAppCmd       = 55 // CMD55
	cmdReadOCR      = 58 // CMD58
	acmdSendOpCond  = 41 // ACMD41 (sent after CMD55)
)

const (
	dataTokenStart = 0xFE
	blockSize      = 512
	initRetries    = 200
	busyPollBudget = 500 * time.Millisecond
)

// Device drives an SD card over SPI mode. It implements the
// ReadBlocks/WriteBlocks/EraseSectors/Mode shape sdbackend wires into
// the FAT library.
type Device struct {
	conn spi.Conn
	cs   gpio.PinOut

	totalBlocks int64
	writable    bool
}

// New constructs a Device and runs the card's SPI-mode init sequence
// (>=74 idle clocks, CMD0, CMD8, ACMD41 until ready, CMD16). It
// returns an error if no card responds within the retry budget.
func New(conn spi.Conn, cs gpio.PinOut) (*Device, error) {
	d := &Device{conn: conn, cs: cs}
	if err := d.init(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Device) csLow()  { d.cs.Out(gpio.Low) }
func (d *Device) csHigh() { d.cs.Out(gpio.High) }

func (d *Device) init() error {
	d.csHigh()
	idle := make([]byte, 10)
	for i := range idle {
		idle[i] = 0xFF
	}
	d.conn.Tx(idle, nil)

	if _, err := d.sendCommand(cmdGoIdle, 0); err != nil {
		return bridgeerr.Wrap("sdspi.init", bridgeerr.IoError, err)
	}

	d.sendCommand(cmdSendIfCond, 0x1AA)
	var r1 byte = 0x01
	for i := 0; i < initRetries && r1&0x01 != 0; i++ {
		d.sendCommand(cmdAppCmd, 0)
		r1, _ = d.sendCommand(acmdSendOpCond, 0x40000000)
		time.Sleep(time.Millisecond)
	}
	if r1&0x01 != 0 {
		return bridgeerr.New("sdspi.init", bridgeerr.Timeout)
	}

	d.sendCommand(cmdSetBlockLen, blockSize)
	d.writable = true
	d.totalBlocks = 1 << 20 // conservative default until CSD parsing is added
	return nil
}

// sendCommand transmits one SD command frame and returns the R1
// response byte.
func (d *Device) sendCommand(cmd byte, arg uint32) (byte, error) {
	d.csLow()
	defer d.csHigh()

	frame := [6]byte{
		0x40 | cmd,
		byte(arg >> 24), byte(arg >> 16), byte(arg >> 8), byte(arg),
		crc7(cmd, arg),
	}
	if err := d.conn.Tx(frame[:], nil); err != nil {
		return 0xFF, err
	}

	resp := make([]byte, 1)
	for i := 0; i < 8; i++ {
		if err := d.conn.Tx([]byte{0xFF}, resp); err != nil {
			return 0xFF, err
		}
		if resp[0]&0x80 == 0 {
			return resp[0], nil
		}
	}
	return 0xFF, bridgeerr.New("sdspi.command", bridgeerr.Timeout)
}

// crc7 computes the CRC7 the SD protocol requires only for CMD0 and
// CMD8 in SPI mode (every other command's CRC is ignored by the card
// once out of idle state, but a correct one is cheap and harmless).
func crc7(cmd byte, arg uint32) byte {
	data := []byte{0x40 | cmd, byte(arg >> 24), byte(arg >> 16), byte(arg >> 8), byte(arg)}
	var crc byte
	for _, b := range data {
		crc ^= b
		for i := 0; i < 8; i++ {
			if crc&0x80 != 0 {
				crc = (crc << 1) ^ 0x12
			} else {
				crc <<= 1
			}
		}
	}
	return crc | 1
}

func (d *Device) waitNotBusy() bool {
	deadline := time.Now().Add(busyPollBudget)
	buf := make([]byte, 1)
	for time.Now().Before(deadline) {
		d.conn.Tx([]byte{0xFF}, buf)
		if buf[0] == 0xFF {
			return true
		}
	}
	return false
}

// ReadBlocks reads len(dst)/blockSize whole blocks starting at
// startBlock into dst, one CMD17 per block.
func (d *Device) ReadBlocks(dst []byte, startBlock int64) error {
	for off := 0; off+blockSize <= len(dst); off += blockSize {
		if err := d.readOneBlock(dst[off:off+blockSize], startBlock); err != nil {
			return err
		}
		startBlock++
	}
	return nil
}

func (d *Device) readOneBlock(dst []byte, block int64) error {
	d.csLow()
	defer d.csHigh()

	if _, err := d.sendCommand(cmdReadBlock, uint32(block)); err != nil {
		return bridgeerr.Wrap("sdspi.read", bridgeerr.IoError, err)
	}

	tok := make([]byte, 1)
	deadline := time.Now().Add(busyPollBudget)
	for tok[0] != dataTokenStart {
		if time.Now().After(deadline) {
			return bridgeerr.New("sdspi.read", bridgeerr.Timeout)
		}
		d.conn.Tx([]byte{0xFF}, tok)
	}

	if err := d.conn.Tx(make([]byte, len(dst)), dst); err != nil {
		return bridgeerr.Wrap("sdspi.read", bridgeerr.IoError, err)
	}
	d.conn.Tx([]byte{0xFF, 0xFF}, nil) // discard CRC
	return nil
}

// WriteBlocks writes len(data)/blockSize whole blocks starting at
// startBlock, one CMD24 per block.
func (d *Device) WriteBlocks(data []byte, startBlock int64) error {
	if !d.writable {
		return bridgeerr.New("sdspi.write", bridgeerr.Unsupported)
	}
	for off := 0; off+blockSize <= len(data); off += blockSize {
		if err := d.writeOneBlock(data[off:off+blockSize], startBlock); err != nil {
			return err
		}
		startBlock++
	}
	return nil
}

func (d *Device) writeOneBlock(block []byte, addr int64) error {
	d.csLow()
	defer d.csHigh()

	if _, err := d.sendCommand(cmdWriteBlock, uint32(addr)); err != nil {
		return bridgeerr.Wrap("sdspi.write", bridgeerr.IoError, err)
	}

	frame := append([]byte{dataTokenStart}, block...)
	frame = append(frame, 0xFF, 0xFF)
	if err := d.conn.Tx(frame, nil); err != nil {
		return bridgeerr.Wrap("sdspi.write", bridgeerr.IoError, err)
	}

	resp := make([]byte, 1)
	d.conn.Tx([]byte{0xFF}, resp)
	if resp[0]&0x1F != 0x05 {
		return bridgeerr.New("sdspi.write", bridgeerr.IoError)
	}
	if !d.waitNotBusy() {
		return bridgeerr.New("sdspi.write", bridgeerr.Timeout)
	}
	return nil
}

// EraseSectors pre-erases a block range via CMD32/CMD33/CMD38; a card
// that ignores the hint still behaves correctly since WriteBlocks
// always writes a full block.
func (d *Device) EraseSectors(startBlock, numBlocks int64) error {
	if !d.writable {
		return bridgeerr.New("sdspi.erase", bridgeerr.Unsupported)
	}
	d.sendCommand(cmdEraseStart, uint32(startBlock))
	d.sendCommand(cmdEraseEnd, uint32(startBlock+numBlocks-1))
	if _, err := d.sendCommand(cmdErase, 0); err != nil {
		return bridgeerr.Wrap("sdspi.erase", bridgeerr.IoError, err)
	}
	if !d.waitNotBusy() {
		return bridgeerr.New("sdspi.erase", bridgeerr.Timeout)
	}
	return nil
}

// Mode reports 3 (read-write) once init has succeeded, 1 otherwise. A
// failed write does not change the reported mode.
func (d *Device) Mode() uint8 {
	if d.writable {
		return 3
	}
	return 1
}
