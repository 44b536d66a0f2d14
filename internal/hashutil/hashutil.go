// Package hashutil provides the stable source-URL digest used to name
// per-calendar artifacts and the cheap directory fingerprint used by the
// schedule cache to decide whether a rebuild is due.
package hashutil

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// SourceHash returns the first 8 hex characters of SHA-1(url). It is stable
// across runs and processes and forms the events_<hash>.json filename.
func SourceHash(url string) string {
	sum := sha1.Sum([]byte(url))
	return hex.EncodeToString(sum[:])[:8]
}

// emptyArtifactMax is the largest serialized size of an empty event sequence
// ("[]" plus an optional trailing newline). Artifacts at or below this size
// count as empty for fingerprinting purposes.
const emptyArtifactMax = 3

// Fingerprint summarizes the artifact directory as (max mtime across
// per-calendar artifacts, count of non-empty artifacts). A stat-only pass;
// file contents are never read.
type Fingerprint struct {
	MaxMTime time.Time
	NonEmpty int
}

// Dir computes the fingerprint of the events_*.json files under dir.
// A missing directory yields the zero fingerprint, not an error.
func Dir(dir string) (Fingerprint, error) {
	var fp Fingerprint

	matches, err := filepath.Glob(filepath.Join(dir, "events_*.json"))
	if err != nil {
		return fp, fmt.Errorf("fingerprint %s: %w", dir, err)
	}
	for _, path := range matches {
		info, err := os.Stat(path)
		if err != nil {
			// Artifact replaced between glob and stat; skip it.
			continue
		}
		if info.ModTime().After(fp.MaxMTime) {
			fp.MaxMTime = info.ModTime()
		}
		if info.Size() > emptyArtifactMax {
			fp.NonEmpty++
		}
	}
	return fp, nil
}

// Equal reports whether two fingerprints are identical.
func (f Fingerprint) Equal(o Fingerprint) bool {
	return f.MaxMTime.Equal(o.MaxMTime) && f.NonEmpty == o.NonEmpty
}

// String encodes the fingerprint as "<unix-nanos>:<count>", the format
// persisted in schedule.fp next to the merged schedule.
func (f Fingerprint) String() string {
	return strconv.FormatInt(f.MaxMTime.UnixNano(), 10) + ":" + strconv.Itoa(f.NonEmpty)
}

// ParseFingerprint decodes the String form.
func ParseFingerprint(s string) (Fingerprint, error) {
	var fp Fingerprint
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 {
		return fp, fmt.Errorf("malformed fingerprint %q", s)
	}
	nanos, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return fp, fmt.Errorf("malformed fingerprint mtime %q: %w", parts[0], err)
	}
	count, err := strconv.Atoi(parts[1])
	if err != nil {
		return fp, fmt.Errorf("malformed fingerprint count %q: %w", parts[1], err)
	}
	fp.MaxMTime = time.Unix(0, nanos)
	fp.NonEmpty = count
	return fp, nil
}
