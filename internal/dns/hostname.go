package dns

import (
	"fmt"
	"strings"
)

const maxLabelLen = 63

// NormalizeLabel reduces a raw device name to a single DNS label: everything
// after the first dot is dropped, the remainder is lowercased, characters
// outside [a-z0-9-] are removed and leading and trailing hyphens are trimmed.
// It fails when nothing valid remains or the label exceeds 63 octets.
func NormalizeLabel(name string) (string, error) {
	label := name
	if i := strings.IndexByte(label, '.'); i >= 0 {
		label = label[:i]
	}
	label = strings.ToLower(label)

	var b strings.Builder
	for _, r := range label {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		}
	}
	label = strings.Trim(b.String(), "-")

	if label == "" {
		return "", fmt.Errorf("dns: no valid hostname label in %q", name)
	}
	if len(label) > maxLabelLen {
		return "", fmt.Errorf("dns: hostname label %q exceeds %d characters", label, maxLabelLen)
	}
	return label, nil
}

// NormalizeSuffix canonicalizes a configured suffix to lowercase with exactly
// one leading dot, e.g. "LAN" and ".lan" both become ".lan". Each dot-label
// must be non-empty and within the label length limit.
func NormalizeSuffix(suffix string) (string, error) {
	s := strings.ToLower(strings.TrimLeft(suffix, "."))
	if s == "" {
		return "", fmt.Errorf("dns: empty hostname suffix %q", suffix)
	}
	for _, label := range strings.Split(s, ".") {
		if label == "" {
			return "", fmt.Errorf("dns: hostname suffix %q has an empty label", suffix)
		}
		if len(label) > maxLabelLen {
			return "", fmt.Errorf("dns: hostname suffix label %q exceeds %d characters", label, maxLabelLen)
		}
	}
	return "." + s, nil
}

// FQDN joins a normalized label with a normalized suffix.
func FQDN(label, suffix string) string {
	return label + suffix
}

// SplitHostname divides an FQDN into its first label and the remaining
// domain, e.g. "laptop.lan" into ("laptop", "lan").
func SplitHostname(fqdn string) (host, domain string) {
	fqdn = strings.TrimSuffix(fqdn, ".")
	before, after, found := strings.Cut(fqdn, ".")
	if !found {
		return fqdn, ""
	}
	return before, after
}

// UnderSuffix reports whether fqdn consists of at least one label followed by
// the normalized suffix. The bare suffix itself does not qualify.
func UnderSuffix(fqdn, suffix string) bool {
	return len(fqdn) > len(suffix) && strings.HasSuffix(fqdn, suffix)
}
