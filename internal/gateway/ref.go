package gateway

import (
	"strconv"
	"strings"

	"github.com/local/forumcast/internal/errs"
)

// RefKind distinguishes the two shapes normalizeRef can resolve to.
type RefKind string

const (
	RefNumeric  RefKind = "numeric"
	RefUsername RefKind = "username"
)

// NormalizedRef is the sum-type result of normalizeRef: either a resolved
// numeric chat id, or an "@username" handle. Only the field matching Kind is
// meaningful.
type NormalizedRef struct {
	Kind     RefKind
	ID       int64
	Username string // always includes the leading "@"
}

// String renders the ref back to the textual form normalizeRef accepts,
// which is what makes normalizeRef idempotent: feeding String() back in
// through normalizeRef reproduces the same NormalizedRef (spec §8).
func (r NormalizedRef) String() string {
	if r.Kind == RefNumeric {
		return strconv.FormatInt(r.ID, 10)
	}
	return r.Username
}

// NormalizeRef is the exported entry point other packages (standby, panel)
// use to turn an operator-supplied ref into a NormalizedRef before handing
// it to Session.Resolve.
func NormalizeRef(ref string) (NormalizedRef, error) { return normalizeRef(ref) }

// normalizeRef turns an operator-supplied channel/group reference into a
// NormalizedRef: a numeric chat id, or an "@username" handle. It accepts a
// bare numeric id, "@username", a "t.me/<username>[/...]" link, or a
// "t.me/c/<internal>/<msg>[/...]" internal link, for which the chat id is
// "-100" concatenated with the internal id (spec §4.2).
func normalizeRef(ref string) (NormalizedRef, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return NormalizedRef{}, errs.New(errs.InvalidInput, "normalizeRef", errEmptyRef)
	}

	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		return NormalizedRef{Kind: RefNumeric, ID: id}, nil
	}

	if strings.HasPrefix(ref, "@") {
		return NormalizedRef{Kind: RefUsername, Username: ref}, nil
	}

	if internal, ok := internalChannelID(ref); ok {
		id, err := strconv.ParseInt("-100"+internal, 10, 64)
		if err != nil {
			return NormalizedRef{}, errs.New(errs.InvalidInput, "normalizeRef", err)
		}
		return NormalizedRef{Kind: RefNumeric, ID: id}, nil
	}

	if username, ok := tmeUsername(ref); ok {
		return NormalizedRef{Kind: RefUsername, Username: "@" + username}, nil
	}

	return NormalizedRef{Kind: RefUsername, Username: "@" + ref}, nil
}

var errEmptyRef = refError("empty reference")

type refError string

func (e refError) Error() string { return string(e) }

// internalChannelID extracts the internal channel id from a
// "t.me/c/<internal>/<msg>[/...]" style link.
func internalChannelID(ref string) (string, bool) {
	trimmed := stripScheme(ref)
	parts := strings.Split(trimmed, "/")
	for i := 0; i+1 < len(parts); i++ {
		if parts[i] == "c" && isNumeric(parts[i+1]) {
			return parts[i+1], true
		}
	}
	return "", false
}

// tmeUsername extracts the username segment from a "t.me/<username>[/...]"
// style link.
func tmeUsername(ref string) (string, bool) {
	trimmed := stripScheme(ref)
	if !strings.HasPrefix(trimmed, "t.me/") && !strings.HasPrefix(trimmed, "telegram.me/") {
		return "", false
	}
	rest := trimmed[strings.Index(trimmed, "/")+1:]
	parts := strings.Split(rest, "/")
	if len(parts) == 0 || parts[0] == "" || parts[0] == "c" {
		return "", false
	}
	return parts[0], true
}

func stripScheme(ref string) string {
	ref = strings.TrimPrefix(ref, "https://")
	ref = strings.TrimPrefix(ref, "http://")
	ref = strings.TrimPrefix(ref, "www.")
	return ref
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
