package rbac

import "strings"

const (
	wildcardAny  = "*"
	wildcardDeep = "**"
	scopeSep     = ":"
)

// MatchPermission reports whether any held permission grants permission.
//
// A held permission matches on exact, case-sensitive equality, "*" and "**"
// match everything and "verb:*" matches any "verb:<resource>". Surrounding
// whitespace is ignored.
func MatchPermission(held []string, permission string) bool {
	want := normalizePermission(permission)
	if want == "" {
		return false
	}
	for _, h := range held {
		h = normalizePermission(h)
		switch {
		case h == "":
			continue
		case h == wildcardAny, h == wildcardDeep, h == want:
			return true
		case strings.HasSuffix(h, scopeSep+wildcardAny):
			prefix := strings.TrimSuffix(h, wildcardAny)
			if len(want) > len(prefix) && strings.HasPrefix(want, prefix) {
				return true
			}
		}
	}
	return false
}

func normalizePermission(p string) string {
	return strings.TrimSpace(p)
}

func normalizePermissions(perms []string) []string {
	seen := make(map[string]struct{}, len(perms))
	normalized := make([]string, 0, len(perms))
	for _, p := range perms {
		p = normalizePermission(p)
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		normalized = append(normalized, p)
	}
	return normalized
}
