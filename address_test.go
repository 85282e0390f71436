package settlement

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddressRoundTrip(t *testing.T) {
	for seed := byte(0); seed < 32; seed++ {
		addr := testAddress(seed)
		text := addr.String()
		require.Len(t, text, AddressLength)

		parsed, err := ParseAddress(text)
		require.NoError(t, err)
		assert.Equal(t, addr, parsed)
	}
}

func TestParseAddressRejectsMalformedInput(t *testing.T) {
	valid := testAddress(7).String()

	// flip one character to break the checksum
	last := valid[len(valid)-1]
	replacement := byte('2')
	if last == replacement {
		replacement = '3'
	}
	tampered := valid[:len(valid)-1] + string(replacement)

	body := append([]byte{2}, bytes.Repeat([]byte{0xaa}, 32)...)
	body = append(body, checksum(body)...)
	wrongVersion := base58.Encode(body)

	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"too short", valid[:AddressLength-1]},
		{"too long", valid + "1"},
		{"not base58", strings.Repeat("0", AddressLength)},
		{"bad checksum", tampered},
		{"wrong version", wrongVersion},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseAddress(tt.input)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidAddress)
			assert.Equal(t, KindValidation, AsError(err).Kind())
		})
	}
}

func TestAddressFromPublicKeyIsDeterministic(t *testing.T) {
	pub := bytes.Repeat([]byte{1}, 32)
	assert.Equal(t, AddressFromPublicKey(pub), AddressFromPublicKey(pub))
	assert.NotEqual(t, AddressFromPublicKey(pub), AddressFromPublicKey(bytes.Repeat([]byte{2}, 32)))
}

func TestAddressJSON(t *testing.T) {
	addr := testAddress(3)

	b, err := json.Marshal(struct {
		Address AccountAddress `json:"address"`
	}{addr})
	require.NoError(t, err)
	assert.Contains(t, string(b), addr.String())

	var decoded struct {
		Address AccountAddress `json:"address"`
	}
	require.NoError(t, json.Unmarshal(b, &decoded))
	assert.Equal(t, addr, decoded.Address)

	err = json.Unmarshal([]byte(`{"address":"nope"}`), &decoded)
	assert.ErrorIs(t, err, ErrInvalidAddress)
}

func TestAddressIsZero(t *testing.T) {
	assert.True(t, AccountAddress{}.IsZero())
	assert.False(t, testAddress(1).IsZero())
}
