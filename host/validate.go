package host

import (
	"regexp"
	"strings"
)

const (
	// MethodLimit is the maximum length of a request method.
	MethodLimit = 100
	// URILimit is the maximum length of a request uri.
	URILimit = 4096
	// DefaultTarget replaces an empty target.
	DefaultTarget = "index.html"
)

// segments of letters, digits, '_' and '-' separated by a single '/'. The last segment may end in a '/' or an
// extension, after which a query may follow.
var validURI = regexp.MustCompile(`^[A-Za-z0-9_-]+(/[A-Za-z0-9_-]+)*(/|\.[A-Za-z0-9_-]*)?(\?.*)?$`)

// ValidMethod reports whether method is a non-empty run of upper case letters.
func ValidMethod(method string) bool {
	if method == "" || len(method) > MethodLimit {
		return false
	}

	for i := 0; i < len(method); i++ {
		if method[i] < 'A' || method[i] > 'Z' {
			return false
		}
	}
	return true
}

// CleanTarget strips the leading slashes of uri. An empty result becomes [DefaultTarget].
func CleanTarget(uri string) string {
	target := strings.TrimLeft(uri, "/")
	if target == "" {
		return DefaultTarget
	}
	return target
}

// ValidTarget reports whether a cleaned target is acceptable.
func ValidTarget(target string) bool {
	return len(target) <= URILimit && validURI.MatchString(target)
}
