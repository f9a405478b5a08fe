package crypto

import (
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcutil/bech32"
)

// AppIDLength is the byte length of an attested execution-image identifier.
const AppIDLength = 21

// AppIDPrefix is the human-readable part of the bech32 form.
const AppIDPrefix = "rofl"

// AppID identifies the execution image an attested call originated from.
// It is compared byte for byte and never in its human-readable form.
type AppID [AppIDLength]byte

// CanonicalAppID is the only derivation from the human-readable identifier
// ("rofl1...") to the comparable value. Truncated, padded or re-encoded
// strings fail the bech32 checksum or the length check.
func CanonicalAppID(human string) (AppID, error) {
	var id AppID
	hrp, data, err := bech32.Decode(human)
	if err != nil {
		return id, fmt.Errorf("app id %q: %w", human, err)
	}
	if hrp != AppIDPrefix {
		return id, fmt.Errorf("app id %q: prefix %q, want %q", human, hrp, AppIDPrefix)
	}
	raw, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return id, fmt.Errorf("app id %q: %w", human, err)
	}
	if len(raw) != AppIDLength {
		return id, fmt.Errorf("app id %q: decoded %d bytes, want %d", human, len(raw), AppIDLength)
	}
	copy(id[:], raw)
	return id, nil
}

// String returns the bech32 form.
func (a AppID) String() string {
	conv, err := bech32.ConvertBits(a[:], 8, 5, true)
	if err != nil {
		return "0x" + hex.EncodeToString(a[:])
	}
	s, err := bech32.Encode(AppIDPrefix, conv)
	if err != nil {
		return "0x" + hex.EncodeToString(a[:])
	}
	return s
}

func (a AppID) IsZero() bool { return a == AppID{} }

func (a AppID) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *AppID) UnmarshalText(text []byte) error {
	id, err := CanonicalAppID(string(text))
	if err != nil {
		return err
	}
	*a = id
	return nil
}
