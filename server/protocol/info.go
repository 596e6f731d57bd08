package protocol

import (
	"crypto/md5"
	"crypto/rc4"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/gear6io/oxygen/pkg/errors"
)

// serviceKey is the secret shared with every cabinet. The RC4 key of a
// packet is MD5(time ‖ counter ‖ serviceKey).
var serviceKey = []byte{
	0x69, 0xd7, 0x46, 0x27, 0xd9, 0x85, 0xee, 0x21, 0x87, 0x16, 0x15, 0x70, 0xd0,
	0x8d, 0x93, 0xb1, 0x24, 0x55, 0x03, 0x5b, 0x6d, 0xf0, 0xd8, 0x20, 0x5d, 0xf5,
}

// Info is the parsed X-Eamuse-Info header, "1-<time:8 hex>-<counter:4 hex>".
type Info struct {
	Version int
	Time    uint32
	Counter uint16
}

// ParseInfo parses an X-Eamuse-Info header value.
func ParseInfo(s string) (Info, error) {
	parts := strings.Split(strings.TrimSpace(s), "-")
	if len(parts) != 3 || len(parts[1]) != 8 || len(parts[2]) != 4 {
		return Info{}, errors.New(ErrInvalidInfo, "malformed info header", nil).AddContext("info", s)
	}

	version, err := strconv.Atoi(parts[0])
	if err != nil {
		return Info{}, errors.New(ErrInvalidInfo, "malformed info version", err).AddContext("info", s)
	}
	t, err := strconv.ParseUint(parts[1], 16, 32)
	if err != nil {
		return Info{}, errors.New(ErrInvalidInfo, "malformed info time", err).AddContext("info", s)
	}
	counter, err := strconv.ParseUint(parts[2], 16, 16)
	if err != nil {
		return Info{}, errors.New(ErrInvalidInfo, "malformed info counter", err).AddContext("info", s)
	}
	return Info{Version: version, Time: uint32(t), Counter: uint16(counter)}, nil
}

func (i Info) String() string {
	return fmt.Sprintf("%d-%08x-%04x", i.Version, i.Time, i.Counter)
}

// Key derives the RC4 key of the packet.
func (i Info) Key() []byte {
	seed, _ := hex.DecodeString(fmt.Sprintf("%08x%04x", i.Time, i.Counter))
	sum := md5.Sum(append(seed, serviceKey...))
	return sum[:]
}

// crypt applies the packet's RC4 keystream. Encryption and decryption are
// the same operation.
func (i Info) crypt(data []byte) []byte {
	c, err := rc4.NewCipher(i.Key())
	if err != nil {
		// a 16 byte key is always accepted
		panic(err)
	}
	out := make([]byte, len(data))
	c.XORKeyStream(out, data)
	return out
}
