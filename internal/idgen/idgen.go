// Package idgen generates record identifiers and parcel tracking codes.
package idgen

import (
	"crypto/rand"
	"encoding/hex"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TrackingPrefix is the fixed prefix on every parcel tracking code.
const TrackingPrefix = "ZAP"

const base36 = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// trackingSuffixLen is the number of random base36 characters.
const trackingSuffixLen = 3

// New returns a random UUIDv4 string for store-assigned record IDs.
func New() string {
	return uuid.NewString()
}

// TrackingID builds a human-readable tracking code of the form
// ZAP-<base36 unix millis>-<3 random base36 chars>, all uppercase.
// Codes are not guaranteed unique; the parcels table enforces that.
func TrackingID(now time.Time) string {
	ts := strings.ToUpper(strconv.FormatInt(now.UnixMilli(), 36))

	var sb strings.Builder
	sb.Grow(len(TrackingPrefix) + len(ts) + trackingSuffixLen + 2)
	sb.WriteString(TrackingPrefix)
	sb.WriteByte('-')
	sb.WriteString(ts)
	sb.WriteByte('-')

	max := big.NewInt(int64(len(base36)))
	for i := 0; i < trackingSuffixLen; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic("crypto/rand failed: " + err.Error())
		}
		sb.WriteByte(base36[n.Int64()])
	}
	return sb.String()
}

// Hex generates a random hex string of the given byte length.
func Hex(numBytes int) string {
	b := make([]byte, numBytes)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return hex.EncodeToString(b)
}
