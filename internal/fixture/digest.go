package fixture

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
)

// DomainEntry is the domain prefix for entry digests.
// The version suffix leaves room for a future algorithm change.
const DomainEntry = "custodian/fixture-entry/v1"

// Digest returns a content hash of the recorded outcome of e: operation,
// status, response body and error. Params are excluded since they are
// diagnostic only.
//
// Format: SHA256(domain + 0x00 + field + 0x00 + field ...)
func Digest(e Entry) string {
	h := sha256.New()
	h.Write([]byte(DomainEntry))
	for _, part := range [][]byte{
		[]byte(e.Operation),
		[]byte(strconv.Itoa(e.StatusCode)),
		e.Response,
		errorBytes(e),
	} {
		h.Write([]byte{0x00})
		h.Write(part)
	}
	return hex.EncodeToString(h.Sum(nil))
}

func errorBytes(e Entry) []byte {
	if e.Error == nil {
		return nil
	}
	return []byte(e.Error.Code + "\x00" + e.Error.Message)
}
