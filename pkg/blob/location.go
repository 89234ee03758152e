package blob

import (
	"fmt"
	"strings"
)

// Locations have the form "fs://{session_id}/{sha256}". The digest doubles
// as the filename on disk, so parsing must reject anything that could climb
// out of the store root.
const locationScheme = "fs://"

// FormatLocation builds a location string for a stored blob.
func FormatLocation(sessionID, digest string) string {
	return locationScheme + sessionID + "/" + digest
}

// ParseLocation splits a location into its session and digest parts.
func ParseLocation(location string) (sessionID, digest string, err error) {
	rest, ok := strings.CutPrefix(location, locationScheme)
	if !ok {
		return "", "", fmt.Errorf("unsupported blob location %q: want %s prefix", location, locationScheme)
	}

	sessionID, digest, ok = strings.Cut(rest, "/")
	if !ok {
		return "", "", fmt.Errorf("malformed blob location %q", location)
	}
	if err := validateSessionID(sessionID); err != nil {
		return "", "", fmt.Errorf("malformed blob location %q: %w", location, err)
	}
	if err := validateDigest(digest); err != nil {
		return "", "", fmt.Errorf("malformed blob location %q: %w", location, err)
	}
	return sessionID, digest, nil
}

// validateSessionID rejects path metacharacters. Session ids are UUIDs in
// practice; the check guards against hand-crafted locations.
func validateSessionID(sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("empty session id")
	}
	for _, r := range sessionID {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return fmt.Errorf("invalid session id character %q", r)
		}
	}
	return nil
}

// validateDigest requires a full lowercase hex SHA-256.
func validateDigest(digest string) error {
	if len(digest) != 64 {
		return fmt.Errorf("digest must be 64 hex characters, got %d", len(digest))
	}
	for _, r := range digest {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f':
		default:
			return fmt.Errorf("invalid digest character %q", r)
		}
	}
	return nil
}
