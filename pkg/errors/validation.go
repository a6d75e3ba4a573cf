package errors

import (
	"math"
	"regexp"
	"strings"
	"unicode"
)

const (
	maxNameLength   = 256
	maxNodeIDLength = 128
)

// ValidateName validates a feature or test name. The name is trimmed first;
// what remains must be non-empty, at most 256 characters and free of control
// characters.
func ValidateName(kind, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return New(ErrCodeInvalidInput, "%s name is required", kind)
	}
	if len(name) > maxNameLength {
		return New(ErrCodeInvalidInput, "%s name too long (max %d characters)", kind, maxNameLength)
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return New(ErrCodeInvalidInput, "%s name contains invalid control characters", kind)
		}
	}
	return nil
}

// nodeIDRegex matches diagram node ids such as "project-1", "12" and
// "high-priority-tests-12", as well as bare uuids.
var nodeIDRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._:-]*$`)

// ValidateNodeID validates a diagram node id received from a client.
func ValidateNodeID(id string) error {
	if id == "" {
		return New(ErrCodeInvalidID, "node id cannot be empty")
	}
	if len(id) > maxNodeIDLength {
		return New(ErrCodeInvalidID, "node id too long (max %d characters)", maxNodeIDLength)
	}
	if !nodeIDRegex.MatchString(id) {
		return New(ErrCodeInvalidID, "invalid node id: %q", id)
	}
	return nil
}

// ValidatePosition rejects NaN and infinite coordinates.
func ValidatePosition(x, y float64) error {
	if math.IsNaN(x) || math.IsInf(x, 0) || math.IsNaN(y) || math.IsInf(y, 0) {
		return New(ErrCodeInvalidInput, "position must be finite, got (%v, %v)", x, y)
	}
	return nil
}

// ValidateURL ensures a URL uses the http or https scheme.
func ValidateURL(rawURL string) error {
	if rawURL == "" {
		return New(ErrCodeInvalidInput, "URL cannot be empty")
	}
	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		return New(ErrCodeInvalidInput, "URL must use http or https scheme")
	}
	return nil
}
