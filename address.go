package settlement

import (
	"bytes"
	"crypto/sha256"
	"fmt"

	"github.com/mr-tron/base58"
	"github.com/zeebo/blake3"
)

// AddressVersion is the version byte prefixed to every account address
const AddressVersion byte = 1

// AddressLength is the number of characters of an encoded account address
const AddressLength = 50

const checksumSize = 4

// AccountAddress is the 32-byte account identifier of the ledger
type AccountAddress [32]byte

// ParseAddress decodes a base58check account address.
// The encoding is version byte 1, the 32 address bytes and a 4-byte
// double-SHA256 checksum.
func ParseAddress(s string) (AccountAddress, error) {
	var addr AccountAddress

	if len(s) != AddressLength {
		return addr, NewError(ErrCodeInvalidAddress,
			fmt.Sprintf("address must be %d characters, got %d", AddressLength, len(s)),
			map[string]interface{}{"address": s})
	}

	raw, err := base58.Decode(s)
	if err != nil {
		return addr, NewError(ErrCodeInvalidAddress, "address is not valid base58",
			map[string]interface{}{"address": s})
	}
	if len(raw) != 1+len(addr)+checksumSize {
		return addr, NewError(ErrCodeInvalidAddress,
			fmt.Sprintf("decoded address has %d bytes", len(raw)),
			map[string]interface{}{"address": s})
	}
	if raw[0] != AddressVersion {
		return addr, NewError(ErrCodeInvalidAddress,
			fmt.Sprintf("unsupported address version %d", raw[0]),
			map[string]interface{}{"address": s})
	}

	body := raw[:len(raw)-checksumSize]
	if !bytes.Equal(checksum(body), raw[len(raw)-checksumSize:]) {
		return addr, NewError(ErrCodeInvalidAddress, "address checksum mismatch",
			map[string]interface{}{"address": s})
	}

	copy(addr[:], body[1:])
	return addr, nil
}

// MustParseAddress is ParseAddress for constants and tests
func MustParseAddress(s string) AccountAddress {
	addr, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return addr
}

// ValidateAddress reports whether s is a well-formed account address
func ValidateAddress(s string) error {
	_, err := ParseAddress(s)
	return err
}

// AddressFromPublicKey derives the account address owned by an ed25519 key
func AddressFromPublicKey(pub []byte) AccountAddress {
	return AccountAddress(blake3.Sum256(pub))
}

// String encodes the address in base58check
func (a AccountAddress) String() string {
	body := make([]byte, 0, 1+len(a)+checksumSize)
	body = append(body, AddressVersion)
	body = append(body, a[:]...)
	body = append(body, checksum(body)...)
	return base58.Encode(body)
}

// IsZero reports whether the address is unset
func (a AccountAddress) IsZero() bool {
	return a == AccountAddress{}
}

// MarshalText implements encoding.TextMarshaler
func (a AccountAddress) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (a *AccountAddress) UnmarshalText(text []byte) error {
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

func checksum(body []byte) []byte {
	first := sha256.Sum256(body)
	second := sha256.Sum256(first[:])
	return second[:checksumSize]
}
