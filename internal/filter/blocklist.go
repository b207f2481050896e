package filter

import "strings"

// domainBlocklist stores exact hosts and suffix wildcards derived from configuration.
type domainBlocklist struct {
	exact    map[string]struct{}
	suffixes []string
}

// newDomainBlocklist accepts "example.com", "*.example.com" and ".example.com".
// It returns nil when no usable pattern was given.
func newDomainBlocklist(patterns []string) *domainBlocklist {
	bl := &domainBlocklist{exact: make(map[string]struct{})}
	for _, raw := range patterns {
		value := strings.TrimSpace(strings.ToLower(raw))
		switch {
		case value == "":
		case strings.HasPrefix(value, "*."):
			bl.addSuffix(strings.TrimPrefix(value, "*."))
		case strings.HasPrefix(value, "."):
			bl.addSuffix(strings.TrimPrefix(value, "."))
		default:
			bl.exact[value] = struct{}{}
		}
	}
	if len(bl.exact) == 0 && len(bl.suffixes) == 0 {
		return nil
	}
	return bl
}

func (b *domainBlocklist) addSuffix(suffix string) {
	if suffix == "" {
		return
	}
	for _, existing := range b.suffixes {
		if existing == suffix {
			return
		}
	}
	b.suffixes = append(b.suffixes, suffix)
}

// blocked reports whether host matches an exact entry or sits under a suffix.
func (b *domainBlocklist) blocked(host string) bool {
	if b == nil {
		return false
	}
	host = strings.TrimSuffix(strings.TrimSpace(strings.ToLower(host)), ".")
	if host == "" {
		return false
	}
	if _, ok := b.exact[host]; ok {
		return true
	}
	for _, suffix := range b.suffixes {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return true
		}
	}
	return false
}
