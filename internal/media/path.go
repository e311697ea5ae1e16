package media

import (
	"fmt"
	"strings"
	"time"

	"github.com/vbonduro/homewiz/internal/domain"
)

const maxFilenameLen = 100

// StoragePath derives the blob key for an upload. The same inputs always yield
// the same key, so callers must pass the canonical id, never a temporary one.
func StoragePath(kind domain.EntityKind, canonicalID string, category domain.MediaCategory, uploadedAt time.Time, filename string) string {
	return fmt.Sprintf("%s/%s/%s/%d_%s",
		kind.Table(), canonicalID, category, uploadedAt.UnixMilli(), SanitizeFilename(filename))
}

// EntityPrefix is the blob key prefix shared by every asset of one entity.
func EntityPrefix(kind domain.EntityKind, canonicalID string) string {
	return kind.Table() + "/" + canonicalID + "/"
}

// SanitizeFilename lowercases name and replaces every run of characters outside
// [a-z0-9._-] with a single underscore.
func SanitizeFilename(name string) string {
	if idx := strings.LastIndexAny(name, `/\`); idx >= 0 {
		name = name[idx+1:]
	}
	var b strings.Builder
	lastUnderscore := false
	for _, r := range strings.ToLower(name) {
		ok := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '.' || r == '-' || r == '_'
		if !ok {
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
			continue
		}
		b.WriteRune(r)
		lastUnderscore = r == '_'
	}
	out := strings.Trim(b.String(), "_.")
	if len(out) > maxFilenameLen {
		out = out[len(out)-maxFilenameLen:]
	}
	if out == "" {
		return "file"
	}
	return out
}
