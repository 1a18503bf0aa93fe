package keyexpr

import "strings"

// Intersects reports whether at least one concrete key matches both a and b.
func Intersects(a, b KeyExpr) bool {
	if a.IsZero() || b.IsZero() {
		return false
	}
	if a.s == b.s {
		return true
	}
	return chunksIntersect(strings.Split(a.s, "/"), strings.Split(b.s, "/"))
}

// Intersects is the method form of the package-level Intersects.
func (k KeyExpr) Intersects(other KeyExpr) bool {
	return Intersects(k, other)
}

func chunksIntersect(a, b []string) bool {
	for {
		switch {
		case len(a) == 0:
			return allDoubleWild(b)
		case len(b) == 0:
			return allDoubleWild(a)
		case a[0] == "**":
			// "**" absorbs zero chunks, or b's head and keeps going.
			return chunksIntersect(a[1:], b) || chunksIntersect(a, b[1:])
		case b[0] == "**":
			return chunksIntersect(a, b[1:]) || chunksIntersect(a[1:], b)
		case !chunkIntersects(a[0], b[0]):
			return false
		}
		a, b = a[1:], b[1:]
	}
}

func allDoubleWild(chunks []string) bool {
	for _, c := range chunks {
		if c != "**" {
			return false
		}
	}
	return true
}

func chunkIntersects(a, b string) bool {
	if a == "*" || b == "*" || a == b {
		return true
	}
	aWild := strings.Contains(a, "$*")
	bWild := strings.Contains(b, "$*")
	switch {
	case !aWild && !bWild:
		return false
	case aWild && !bWild:
		return globMatch(strings.Split(a, "$*"), b)
	case !aWild && bWild:
		return globMatch(strings.Split(b, "$*"), a)
	}
	// Two patterns with at least one wildcard each share a match iff their
	// literal prefixes and suffixes are compatible.
	ap, bp := strings.Split(a, "$*"), strings.Split(b, "$*")
	return compatiblePrefix(ap[0], bp[0]) && compatibleSuffix(ap[len(ap)-1], bp[len(bp)-1])
}

// globMatch reports whether literal s matches the pattern whose literal
// pieces, separated by "$*", are parts.
func globMatch(parts []string, s string) bool {
	if !strings.HasPrefix(s, parts[0]) {
		return false
	}
	s = s[len(parts[0]):]
	last := parts[len(parts)-1]
	for _, p := range parts[1 : len(parts)-1] {
		i := strings.Index(s, p)
		if i < 0 {
			return false
		}
		s = s[i+len(p):]
	}
	return len(s) >= len(last) && strings.HasSuffix(s, last)
}

func compatiblePrefix(a, b string) bool {
	return strings.HasPrefix(a, b) || strings.HasPrefix(b, a)
}

func compatibleSuffix(a, b string) bool {
	return strings.HasSuffix(a, b) || strings.HasSuffix(b, a)
}
