// Package students links external contributor accounts to registered
// student identities.
package students

import (
	"net/url"
	"strings"

	"github.com/osscampus/contrib-board/internal/store"
)

// Resolver maps external account handles to students. Matching is
// case-insensitive; students without a usable GitHub profile URL never
// match.
type Resolver struct {
	byHandle map[string]store.Student
}

// NewResolver builds a resolver from the given student records. When two
// students claim the same handle the first one wins.
func NewResolver(records []store.Student) *Resolver {
	byHandle := make(map[string]store.Student, len(records))
	for _, student := range records {
		handle := HandleFromProfileURL(student.GitHubProfileURL)
		if handle == "" {
			continue
		}
		if _, taken := byHandle[handle]; taken {
			continue
		}
		byHandle[handle] = student
	}
	return &Resolver{byHandle: byHandle}
}

// Resolve looks up the student linked to an external account handle.
func (r *Resolver) Resolve(account string) (store.Student, bool) {
	student, ok := r.byHandle[normalizeHandle(account)]
	return student, ok
}

// Len reports the number of resolvable handles.
func (r *Resolver) Len() int {
	return len(r.byHandle)
}

// HandleFromProfileURL extracts the account handle from a GitHub profile
// URL. A bare handle is accepted as-is; URLs whose path holds more than the
// handle yield the first segment.
func HandleFromProfileURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if !strings.Contains(raw, "/") {
		return normalizeHandle(raw)
	}

	candidate := raw
	if !strings.Contains(candidate, "://") {
		candidate = "https://" + candidate
	}
	parsed, err := url.Parse(candidate)
	if err != nil {
		return ""
	}
	segments := strings.Split(strings.Trim(parsed.Path, "/"), "/")
	if len(segments) == 0 || segments[0] == "" {
		return ""
	}
	return normalizeHandle(segments[0])
}

func normalizeHandle(handle string) string {
	return strings.ToLower(strings.TrimSpace(handle))
}
