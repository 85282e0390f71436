package settlement

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTransaction(t *testing.T) SignedTransaction {
	t.Helper()

	header, payload, err := NewTransactionBuilder(WithBuilderClock(newFakeClock())).
		Build(testRequest(testAddress(1), testAddress(2), "2.25", "job-7"), 3)
	require.NoError(t, err)
	return SignedTransaction{Header: header, Payload: payload, Signature: []byte{1, 2, 3}}
}

func TestEncodeDecodeTransaction(t *testing.T) {
	tx := testTransaction(t)

	encoded, err := EncodeTransaction(tx)
	require.NoError(t, err)

	decoded, err := DecodeTransaction(encoded)
	require.NoError(t, err)
	assert.Equal(t, tx, decoded)

	again, err := EncodeTransaction(decoded)
	require.NoError(t, err)
	assert.Equal(t, encoded, again)
	assert.Equal(t, TransactionHash(encoded), TransactionHash(again))
	assert.Len(t, TransactionHash(encoded), 64)
}

func TestSignDigestCoversEveryField(t *testing.T) {
	tx := testTransaction(t)
	base, err := SignDigest(tx.Header, tx.Payload)
	require.NoError(t, err)
	assert.Len(t, base, 32)

	same, err := SignDigest(tx.Header, tx.Payload)
	require.NoError(t, err)
	assert.Equal(t, base, same)

	header := tx.Header
	header.Nonce++
	changed, err := SignDigest(header, tx.Payload)
	require.NoError(t, err)
	assert.NotEqual(t, base, changed)

	payload := tx.Payload
	payload.Amount++
	changed, err = SignDigest(tx.Header, payload)
	require.NoError(t, err)
	assert.NotEqual(t, base, changed)

	payload = tx.Payload
	payload.Memo = "job-8"
	changed, err = SignDigest(tx.Header, payload)
	require.NoError(t, err)
	assert.NotEqual(t, base, changed)
}

func TestDecodeTransactionRejectsGarbage(t *testing.T) {
	_, err := DecodeTransaction([]byte{0xff, 0x00})
	assert.Error(t, err)
}
