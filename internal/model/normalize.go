package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// NormalizePath rewrites a path to start with exactly one leading slash, end
// with no trailing slash, and collapse any run of repeated separators.
func NormalizePath(p string) string {
	if p == "" {
		return "/"
	}
	parts := strings.Split(p, "/")
	kept := make([]string, 0, len(parts))
	for _, part := range parts {
		if part != "" {
			kept = append(kept, part)
		}
	}
	if len(kept) == 0 {
		return "/"
	}
	return "/" + strings.Join(kept, "/")
}

var slugInvalidRun = regexp.MustCompile(`[^a-z0-9]+`)

// GenerateSlug deterministically derives a URL-safe identifier from a scan
// name: lowercase, non-alphanumeric runs collapsed to a single hyphen,
// leading/trailing hyphens trimmed.
func GenerateSlug(name string) string {
	lower := strings.ToLower(strings.TrimSpace(name))
	slug := slugInvalidRun.ReplaceAllString(lower, "-")
	slug = strings.Trim(slug, "-")
	if slug == "" {
		slug = "scan"
	}
	return slug
}

// DeriveRecordID computes the collision-resistant compact primary key for a
// StoredRecord: the first 16 hex characters of SHA-256 over
// "nasHost::folderPath::timestamp_iso_seconds".
func DeriveRecordID(nasHost, folderPath string, ts time.Time) string {
	key := fmt.Sprintf("%s::%s::%s", nasHost, folderPath, ts.UTC().Format("2006-01-02T15:04:05Z"))
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])[:16]
}

// IsFinished implements the NAS's polymorphic "finished" predicate: it
// accepts the bool true, the case-insensitive strings "true"/"1"/"yes", and
// the numbers 1 / 1.0 as truthy. Everything else, including 0, negative
// numbers, "false", "", and nil, is false.
func IsFinished(v interface{}) bool {
	switch val := v.(type) {
	case bool:
		return val
	case string:
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "true", "1", "yes":
			return true
		default:
			return false
		}
	case int:
		return val == 1
	case int64:
		return val == 1
	case float64:
		return val == 1.0
	default:
		return false
	}
}
