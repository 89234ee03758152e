package blob

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDigest = "9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08"

func TestFormatLocation(t *testing.T) {
	loc := FormatLocation("sess-1", testDigest)
	assert.Equal(t, "fs://sess-1/"+testDigest, loc)
}

func TestParseLocation_RoundTrip(t *testing.T) {
	loc := FormatLocation("sess-1", testDigest)

	sessionID, digest, err := ParseLocation(loc)
	require.NoError(t, err)
	assert.Equal(t, "sess-1", sessionID)
	assert.Equal(t, testDigest, digest)
}

func TestParseLocation_Rejects(t *testing.T) {
	tests := []struct {
		name     string
		location string
	}{
		{
			name:     "missing scheme",
			location: "sess-1/" + testDigest,
		},
		{
			name:     "wrong scheme",
			location: "s3://sess-1/" + testDigest,
		},
		{
			name:     "no separator",
			location: "fs://sess-1",
		},
		{
			name:     "empty session id",
			location: "fs:///" + testDigest,
		},
		{
			name:     "path traversal in session id",
			location: "fs://../etc/" + testDigest,
		},
		{
			name:     "dot segments in session id",
			location: "fs://a.b/" + testDigest,
		},
		{
			name:     "short digest",
			location: "fs://sess-1/abc123",
		},
		{
			name:     "digest with traversal",
			location: "fs://sess-1/../../" + testDigest[:58],
		},
		{
			name:     "uppercase hex digest",
			location: "fs://sess-1/" + strings.ToUpper(testDigest),
		},
		{
			name:     "non-hex digest",
			location: "fs://sess-1/" + strings.Repeat("z", 64),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := ParseLocation(tt.location)
			assert.Error(t, err)
		})
	}
}

func TestParseLocation_UUIDSession(t *testing.T) {
	loc := FormatLocation("b5b2c6f0-7e2e-4b7a-9a57-2f9a9a1c0d44", testDigest)

	sessionID, digest, err := ParseLocation(loc)
	require.NoError(t, err)
	assert.Equal(t, "b5b2c6f0-7e2e-4b7a-9a57-2f9a9a1c0d44", sessionID)
	assert.Equal(t, testDigest, digest)
}
