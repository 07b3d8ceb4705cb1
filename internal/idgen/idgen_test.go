package idgen

import (
	"regexp"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var trackingPattern = regexp.MustCompile(`^ZAP-[0-9A-Z]+-[0-9A-Z]{3}$`)

func TestTrackingID_Format(t *testing.T) {
	now := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)
	id := TrackingID(now)

	require.Regexp(t, trackingPattern, id)

	parts := strings.Split(id, "-")
	require.Len(t, parts, 3)
	ms, err := strconv.ParseInt(strings.ToLower(parts[1]), 36, 64)
	require.NoError(t, err)
	assert.Equal(t, now.UnixMilli(), ms)
}

func TestTrackingID_Varies(t *testing.T) {
	now := time.Now()
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		seen[TrackingID(now)] = true
	}
	// 36^3 suffixes; 50 draws colliding into one value would mean no randomness.
	assert.Greater(t, len(seen), 1)
}

func TestNew_IsUUID(t *testing.T) {
	id := New()
	_, err := uuid.Parse(id)
	assert.NoError(t, err)
	assert.NotEqual(t, id, New())
}

func TestHex_Length(t *testing.T) {
	assert.Len(t, Hex(8), 16)
}
