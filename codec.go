package settlement

import (
	"encoding/hex"

	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"
	"github.com/zeebo/blake3"
)

// signDomain separates transfer signatures from any other use of the key.
const signDomain = "odla/transfer/v1"

var encMode = func() cbor.EncMode {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

type unsignedTransaction struct {
	Header  TransactionHeader  `cbor:"1,keyasint"`
	Payload TransactionPayload `cbor:"2,keyasint"`
}

// SignDigest returns the 32-byte digest a signer signs for header and payload
func SignDigest(header TransactionHeader, payload TransactionPayload) ([]byte, error) {
	body, err := encMode.Marshal(unsignedTransaction{Header: header, Payload: payload})
	if err != nil {
		return nil, errors.Wrap(err, "encoding transaction for signing failed")
	}

	h := blake3.New()
	_, _ = h.Write([]byte(signDomain))
	_, _ = h.Write(body)
	return h.Sum(nil), nil
}

// EncodeTransaction serializes a signed transaction in canonical CBOR
func EncodeTransaction(tx SignedTransaction) ([]byte, error) {
	b, err := encMode.Marshal(tx)
	if err != nil {
		return nil, errors.Wrap(err, "encoding signed transaction failed")
	}
	return b, nil
}

// DecodeTransaction parses a serialized signed transaction
func DecodeTransaction(b []byte) (SignedTransaction, error) {
	var tx SignedTransaction
	if err := cbor.Unmarshal(b, &tx); err != nil {
		return SignedTransaction{}, errors.Wrap(err, "decoding signed transaction failed")
	}
	return tx, nil
}

// TransactionHash is the hex BLAKE3 hash of a serialized transaction
func TransactionHash(encoded []byte) string {
	sum := blake3.Sum256(encoded)
	return hex.EncodeToString(sum[:])
}
