// Package pathnorm collapses volatile path segments (numeric IDs, UUIDs,
// long hex hashes) into stable placeholders, and extracts sorted unique
// query keys from a URL.
package pathnorm

import (
	"net/url"
	"regexp"
	"sort"
	"strings"
)

var (
	uuidRe = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[1-5][0-9a-fA-F]{3}-[89abAB][0-9a-fA-F]{3}-[0-9a-fA-F]{12}$`)
	hexRe  = regexp.MustCompile(`^[0-9a-fA-F]{16,}$`)
	idRe   = regexp.MustCompile(`^[0-9]+$`)
)

// Normalize collapses numeric IDs, UUIDs, and long hex segments in a URL
// path to placeholders. It strips a single trailing slash (except for the
// root) before splitting. The check order is UUID, then hash, then id.
func Normalize(path string) string {
	if path == "" {
		return "/"
	}
	if path != "/" && strings.HasSuffix(path, "/") {
		path = strings.TrimSuffix(path, "/")
	}

	segments := strings.Split(path, "/")
	for i, seg := range segments {
		if seg == "" {
			continue
		}
		segments[i] = normalizeSegment(seg)
	}
	out := strings.Join(segments, "/")
	if out == "" {
		return "/"
	}
	return out
}

func normalizeSegment(seg string) string {
	switch {
	case uuidRe.MatchString(seg):
		return ":uuid"
	case hexRe.MatchString(seg):
		return ":hash"
	case idRe.MatchString(seg):
		return ":id"
	default:
		return seg
	}
}

// QueryKeys returns the sorted, deduplicated set of query parameter names
// present in rawURL. It returns nil (not an error) when rawURL does not
// parse or carries no query string.
func QueryKeys(rawURL string) []string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil
	}
	return queryKeysFromValues(u.Query())
}

func queryKeysFromValues(values url.Values) []string {
	if len(values) == 0 {
		return nil
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
