package attachment

import (
	"crypto/rand"
	"fmt"
	"mime"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/NizariMohamed/chatting/internal/domain"
)

var (
	extPattern = regexp.MustCompile(`^\.[a-z0-9]{1,10}$`)
	// <prefix>/<yyyy>/<mm>/<ulid><ext>
	refPattern = regexp.MustCompile(`^([a-z]+)/(\d{4})/(\d{2})/([0-9A-HJKMNP-TV-Z]{26})(\.[a-z0-9]{1,10})?$`)
)

// newKey builds a collision-free object key under prefix.
func newKey(prefix string, now time.Time, ext string) (string, error) {
	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		return "", fmt.Errorf("failed to generate ULID: %w", err)
	}
	now = now.UTC()
	return fmt.Sprintf("%s/%04d/%02d/%s%s", prefix, now.Year(), int(now.Month()), id.String(), ext), nil
}

// extensionFor picks a safe extension from the client file name, falling
// back to the first one registered for contentType.
func extensionFor(originalName, contentType string) string {
	ext := strings.ToLower(path.Ext(strings.ReplaceAll(originalName, "\\", "/")))
	if extPattern.MatchString(ext) {
		return ext
	}
	if exts, err := mime.ExtensionsByType(contentType); err == nil {
		for _, e := range exts {
			if extPattern.MatchString(e) {
				return e
			}
		}
	}
	return ""
}

// ValidateRef checks that ref is a key this package could have produced
// under prefix. It rejects traversal and foreign keys.
func ValidateRef(prefix, ref string) error {
	m := refPattern.FindStringSubmatch(ref)
	if m == nil || m[1] != prefix {
		return domain.NewValidationError("attachment_ref", "malformed reference")
	}
	if _, err := ulid.ParseStrict(m[4]); err != nil {
		return domain.NewValidationError("attachment_ref", "malformed reference")
	}
	return nil
}
