package githubapi

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrInvalidReference indicates a repository reference that cannot be resolved
// into an owner/name pair.
var ErrInvalidReference = errors.New("invalid repository reference")

// Ref is a canonical repository identifier.
type Ref struct {
	Owner string
	Name  string
}

// FullName returns the canonical "owner/name" form.
func (r Ref) FullName() string {
	return r.Owner + "/" + r.Name
}

// ParseRef resolves a repository URL or a bare "owner/repo" slug into a
// canonical reference. It performs no network calls.
func ParseRef(raw string) (Ref, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Ref{}, fmt.Errorf("%w: empty input", ErrInvalidReference)
	}

	path := trimmed
	if strings.Contains(trimmed, "://") {
		parsed, err := url.Parse(trimmed)
		if err != nil {
			return Ref{}, fmt.Errorf("%w: %v", ErrInvalidReference, err)
		}
		path = parsed.Path
	}

	segments := make([]string, 0, 2)
	for _, segment := range strings.Split(path, "/") {
		if segment == "" {
			continue
		}
		segments = append(segments, segment)
	}
	if len(segments) < 2 {
		return Ref{}, fmt.Errorf("%w: need owner and repository, got %q", ErrInvalidReference, raw)
	}

	return Ref{
		Owner: segments[0],
		Name:  strings.TrimSuffix(segments[1], ".git"),
	}, nil
}
