package animation

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sahilm/fuzzy"
)

// Role is a semantic avatar state mapped onto a concrete clip.
type Role string

const (
	RoleIdle     Role = "idle"
	RoleSpeaking Role = "speaking"
)

// Roles lists the roles the state machine needs.
var Roles = []Role{RoleIdle, RoleSpeaking}

var roleKeywords = map[Role][]string{
	RoleIdle:     {"idle"},
	RoleSpeaking: {"talk", "speak", "gesture", "explain"},
}

// Warning describes a role that could not be mapped cleanly.
type Warning struct {
	Role    Role
	Message string
}

func (w Warning) String() string {
	if w.Role == "" {
		return w.Message
	}
	return fmt.Sprintf("%s: %s", w.Role, w.Message)
}

// Resolution is the outcome of ResolveRoles.
type Resolution struct {
	Clips    map[Role]string
	Source   map[Role]string // "explicit", "exact", "keyword" or "fallback"
	Warnings []Warning
}

// Clip returns the clip resolved for role.
func (r Resolution) Clip(role Role) (string, bool) {
	name, ok := r.Clips[role]
	return name, ok
}

// ResolveRoles maps each role onto one of names. An explicit mapping wins
// when it names an existing clip. Otherwise idle prefers a clip named
// "Idle", then any clip whose lower-cased name contains a role keyword,
// then the first clip. Misses, ambiguity and fallbacks come back as
// warnings.
func ResolveRoles(names []string, explicit map[string]string) Resolution {
	res := Resolution{
		Clips:  make(map[Role]string),
		Source: make(map[Role]string),
	}
	if len(names) == 0 {
		res.Warnings = append(res.Warnings, Warning{Message: "avatar has no animation clips"})
		return res
	}

	known := make(map[Role]bool, len(Roles))
	for _, r := range Roles {
		known[r] = true
	}
	var extra []string
	for k := range explicit {
		if !known[Role(strings.ToLower(k))] {
			extra = append(extra, k)
		}
	}
	sort.Strings(extra)
	for _, k := range extra {
		res.Warnings = append(res.Warnings, Warning{Role: Role(k), Message: "unknown role in mapping, ignored"})
	}

	for _, role := range Roles {
		if want, ok := lookupExplicit(explicit, role); ok {
			if name, found := findClip(names, want); found {
				res.Clips[role] = name
				res.Source[role] = "explicit"
				continue
			}
			msg := fmt.Sprintf("mapped clip %q not found", want)
			if s := suggest(want, names); s != "" {
				msg += fmt.Sprintf(", did you mean %q?", s)
			}
			res.Warnings = append(res.Warnings, Warning{Role: role, Message: msg})
		}

		if role == RoleIdle {
			if name, found := findClip(names, "Idle"); found {
				res.Clips[role] = name
				res.Source[role] = "exact"
				continue
			}
		}

		matches := keywordMatches(names, roleKeywords[role])
		switch {
		case len(matches) == 1:
			res.Clips[role] = matches[0]
			res.Source[role] = "keyword"
		case len(matches) > 1:
			res.Clips[role] = matches[0]
			res.Source[role] = "keyword"
			res.Warnings = append(res.Warnings, Warning{
				Role:    role,
				Message: fmt.Sprintf("ambiguous clips %s, using %q", strings.Join(quote(matches), ", "), matches[0]),
			})
		default:
			res.Clips[role] = names[0]
			res.Source[role] = "fallback"
			res.Warnings = append(res.Warnings, Warning{
				Role:    role,
				Message: fmt.Sprintf("no matching clip, falling back to %q", names[0]),
			})
		}
	}
	return res
}

func lookupExplicit(explicit map[string]string, role Role) (string, bool) {
	for k, v := range explicit {
		if strings.EqualFold(k, string(role)) && v != "" {
			return v, true
		}
	}
	return "", false
}

// findClip matches exactly first, then case-insensitively.
func findClip(names []string, want string) (string, bool) {
	for _, n := range names {
		if n == want {
			return n, true
		}
	}
	for _, n := range names {
		if strings.EqualFold(n, want) {
			return n, true
		}
	}
	return "", false
}

func keywordMatches(names []string, keywords []string) []string {
	var out []string
	for _, n := range names {
		lower := strings.ToLower(n)
		for _, kw := range keywords {
			if strings.Contains(lower, kw) {
				out = append(out, n)
				break
			}
		}
	}
	return out
}

// suggest returns the closest clip name to want, or "".
func suggest(want string, names []string) string {
	lower := make([]string, len(names))
	for i, n := range names {
		lower[i] = strings.ToLower(n)
	}
	matches := fuzzy.Find(strings.ToLower(want), lower)
	if len(matches) == 0 {
		return ""
	}
	return names[matches[0].Index]
}

func quote(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = fmt.Sprintf("%q", n)
	}
	return out
}
