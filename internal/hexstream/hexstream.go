// Package hexstream implements the BEGIN/SIZE/hex-lines/END framing
// protocol spec.md §4.6 describes for ad-hoc export to an engineering
// host over a byte link (production wiring is a go.bug.st/serial
// serial.Port; tests use any io.ReadWriter).
package hexstream

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/tamzrod/scope-bridge/internal/bridgeerr"
)

const (
	DefaultStride = 32
	MaxStride     = 64
)

// Backend streams files to/from a byte link using the wire grammar in
// spec.md §4.6. It is not meaningful to delete/list/size/format a
// stream, so those are stats-only or no-ops per the spec.
type Backend struct {
	link  io.ReadWriter
	debug bool
	stride int

	busy bool

	filesTransferred uint32
	bytesTransferred uint64
}

func New(link io.ReadWriter) *Backend {
	return &Backend{link: link, stride: DefaultStride}
}

func (b *Backend) SetDebug(on bool) { b.debug = on }

func (b *Backend) SetLineStride(k int) {
	if k < 1 {
		k = 1
	}
	if k > MaxStride {
		k = MaxStride
	}
	b.stride = k
}

// Write streams name/bytes as a BEGIN/SIZE/hex-lines/END frame.
func (b *Backend) Write(name string, data []byte) (int, error) {
	if b.busy {
		return 0, bridgeerr.New("hexstream.write", bridgeerr.Busy)
	}
	b.busy = true
	defer func() { b.busy = false }()

	var sent int
	write := func(s string) error {
		n, err := io.WriteString(b.link, s)
		sent += n
		return err
	}

	if err := write(fmt.Sprintf("BEGIN:%s\r\n", name)); err != nil {
		return sent, bridgeerr.Wrap("hexstream.write", bridgeerr.IoError, err)
	}
	if err := write(fmt.Sprintf("SIZE:%d\r\n", len(data))); err != nil {
		return sent, bridgeerr.Wrap("hexstream.write", bridgeerr.IoError, err)
	}

	done := 0
	for off := 0; off < len(data); off += b.stride {
		end := off + b.stride
		if end > len(data) {
			end = len(data)
		}
		line := encodeLine(data[off:end])
		if err := write(line + "\r\n"); err != nil {
			return sent, bridgeerr.Wrap("hexstream.write", bridgeerr.IoError, err)
		}
		done = end

		if b.debug && done/1024 != off/1024 {
			pct := 100 * done / len(data)
			if err := write(fmt.Sprintf("PROGRESS:%s:%d/%d (%d%%)\r\n", name, done, len(data), pct)); err != nil {
				return sent, bridgeerr.Wrap("hexstream.write", bridgeerr.IoError, err)
			}
		}
	}

	if err := write(fmt.Sprintf("END:%s\r\n", name)); err != nil {
		return sent, bridgeerr.Wrap("hexstream.write", bridgeerr.IoError, err)
	}

	b.filesTransferred++
	b.bytesTransferred += uint64(len(data))
	return sent, nil
}

// encodeLine renders bytes as uppercase hex pairs, space-separated
// every 8 bytes.
func encodeLine(chunk []byte) string {
	var sb strings.Builder
	for i, c := range chunk {
		if i > 0 && i%8 == 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "%02X", c)
	}
	return sb.String()
}

// Receive reads lines until END: is seen or timeout elapses, decoding
// data lines into dst and returning the number of bytes decoded. The
// link is read through a bufio.Scanner; each loop iteration checks
// the deadline before asking for the next line, so a link that keeps
// sending lines without END: returns once the budget expires. A Scan
// already waiting on the link is not interrupted: it returns only when
// the link's own Read does. End of input before END: also reports
// Timeout.
func (b *Backend) Receive(dst []byte, timeout time.Duration) (int, error) {
	scanner := bufio.NewScanner(b.link)
	deadline := time.Now().Add(timeout)
	n := 0

	for {
		if timeout > 0 && time.Now().After(deadline) {
			return n, bridgeerr.New("hexstream.receive", bridgeerr.Timeout)
		}
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return n, bridgeerr.Wrap("hexstream.receive", bridgeerr.IoError, err)
			}
			return n, bridgeerr.New("hexstream.receive", bridgeerr.Timeout)
		}

		line := strings.TrimRight(scanner.Text(), "\r\n")
		switch {
		case strings.HasPrefix(line, "BEGIN:"), strings.HasPrefix(line, "SIZE:"), strings.HasPrefix(line, "PROGRESS:"):
			continue
		case strings.HasPrefix(line, "ABORT:"):
			return n, bridgeerr.New("hexstream.receive", bridgeerr.ProtocolError)
		case strings.HasPrefix(line, "END:"):
			return n, nil
		default:
			n += decodeLine(line, dst[n:])
		}
	}
}

// decodeLine skips an optional "<hex-addr>: " prefix, then decodes
// consecutive hex pairs into dst, stopping at the first non-hex
// character or when dst is full.
func decodeLine(line string, dst []byte) int {
	if idx := strings.Index(line, ": "); idx > 0 && idx <= 10 {
		if isHexRun(line[:idx]) {
			line = line[idx+2:]
		}
	}

	var buf bytes.Buffer
	buf.WriteString(line)

	n := 0
	s := buf.String()
	i := 0
	for i+1 < len(s) && n < len(dst) {
		if s[i] == ' ' {
			i++
			continue
		}
		if !isHexDigit(s[i]) || !isHexDigit(s[i+1]) {
			break
		}
		v, err := strconv.ParseUint(s[i:i+2], 16, 8)
		if err != nil {
			break
		}
		dst[n] = byte(v)
		n++
		i += 2
	}
	return n
}

func isHexRun(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !isHexDigit(s[i]) {
			return false
		}
	}
	return true
}

func isHexDigit(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'A' && c <= 'F') || (c >= 'a' && c <= 'f')
}

func (b *Backend) Abort() {
	b.busy = false
}

func (b *Backend) Stats() (files uint32, bytes uint64) {
	return b.filesTransferred, b.bytesTransferred
}

func (b *Backend) ResetStats() {
	b.filesTransferred = 0
	b.bytesTransferred = 0
}

// The operations below are not meaningful on a byte stream.
func (b *Backend) Exists(string) bool       { return false }
func (b *Backend) Size(string) (uint32, bool) { return 0, false }
func (b *Backend) Delete(string) error {
	return bridgeerr.New("hexstream.delete", bridgeerr.Unsupported)
}
func (b *Backend) List([]string) int { return 0 }
func (b *Backend) Format() error {
	b.ResetStats()
	return nil
}
