package net

import (
	"net/http"
	"strings"
)

const maxHostLength = 253

// ExtractHost returns the routing key for a request: the Host header
// without the port, lowercased.
func ExtractHost(r *http.Request) string {
	host := r.Host
	if i := strings.Index(host, ":"); i >= 0 {
		host = host[:i]
	}

	return strings.ToLower(host)
}

// ValidHost reports whether host is a syntactically valid hostname:
// ASCII letters, digits, hyphens and dots, with every label starting and
// ending alphanumeric, and a total length of at most 253 characters.
func ValidHost(host string) bool {
	if host == "" || len(host) > maxHostLength {
		return false
	}

	for _, label := range strings.Split(host, ".") {
		if !validLabel(label) {
			return false
		}
	}

	return true
}

func validLabel(label string) bool {
	if label == "" || len(label) > 63 {
		return false
	}

	for i := 0; i < len(label); i++ {
		c := label[i]
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '-':
			if i == 0 || i == len(label)-1 {
				return false
			}
		default:
			return false
		}
	}

	return true
}
