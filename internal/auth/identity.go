package auth

import (
	"crypto/md5"
	"crypto/sha1"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"

	"github.com/energizer-project/quarry/internal/protocol"
)

// ServerHash computes the session server hash of the key exchange: SHA-1
// over server id, shared secret and public key, printed as a signed
// two's complement hex number without leading zeros.
func ServerHash(serverID string, secret, publicKey []byte) string {
	h := sha1.New()
	h.Write([]byte(serverID))
	h.Write(secret)
	h.Write(publicKey)
	sum := h.Sum(nil)

	negative := sum[0]&0x80 != 0
	if negative {
		carry := true
		for i := len(sum) - 1; i >= 0; i-- {
			sum[i] = ^sum[i]
			if carry {
				sum[i]++
				carry = sum[i] == 0
			}
		}
	}

	s := strings.TrimLeft(hex.EncodeToString(sum), "0")
	if s == "" {
		s = "0"
	}
	if negative {
		s = "-" + s
	}
	return s
}

// OfflineUUID derives the name based UUID used when online mode is off.
func OfflineUUID(username string) uuid.UUID {
	sum := md5.Sum([]byte("OfflinePlayer:" + username))
	sum[6] = sum[6]&0x0f | 0x30
	sum[8] = sum[8]&0x3f | 0x80
	return uuid.UUID(sum)
}

// ValidateUsername enforces 1 to 16 characters of [A-Za-z0-9_].
func ValidateUsername(name string) error {
	if len(name) == 0 || len(name) > protocol.MaxUsernameLength {
		return protocol.Violation("username length %d outside 1..%d", len(name), protocol.MaxUsernameLength)
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_':
		default:
			return protocol.Violation("username contains invalid character %q", c)
		}
	}
	return nil
}
