// Package privacy scrubs sensitive material out of text destined for logs
// or telemetry: broker and upload URLs, filesystem paths, and any
// credentials embedded in them. It also generates the anonymous system
// identifier attached to telemetry events.
package privacy

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
	"net/url"
	"path/filepath"
	"regexp"
	"strings"
)

// Patterns are compiled once; ScrubMessage sits on the error reporting path
// and must not recompile per call.
var (
	// Any scheme-qualified URL: http(s) endpoints, tcp/ssl broker
	// addresses, ftp/sftp upload targets.
	urlPattern = regexp.MustCompile(`\b[a-z][a-z0-9+.-]*://\S+`)

	// Absolute filesystem paths with at least two segments, the shape
	// audio references and config paths take in error messages. The first
	// segment must contain a letter so slash-separated dates do not match.
	pathPattern = regexp.MustCompile(`/[\w.@%+-]*[A-Za-z][\w.@%+-]*(?:/[\w.@%+-]+)+`)

	systemIDPattern = regexp.MustCompile(`(?i)^[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}$`)
)

// ScrubMessage replaces URLs and filesystem paths in a message with
// anonymized placeholders. Credentials embedded in broker or upload URLs
// never survive the rewrite. Placeholders are stable, so repeated failures
// against the same target stay correlated across events.
func ScrubMessage(message string) string {
	scrubbed := urlPattern.ReplaceAllStringFunc(message, AnonymizeURL)
	return pathPattern.ReplaceAllStringFunc(scrubbed, AnonymizePath)
}

// AnonymizeURL reduces a URL to a stable hash that still distinguishes
// scheme, host class, port, and path shape. Two errors against the same
// broker produce the same token without revealing the broker.
func AnonymizeURL(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		sum := sha256.Sum256([]byte(rawURL))
		return fmt.Sprintf("url-hash-%x", sum[:8])
	}

	var parts []string
	if parsed.Scheme != "" {
		parts = append(parts, parsed.Scheme)
	}
	if host := parsed.Hostname(); host != "" {
		parts = append(parts, categorizeHost(host))
	}
	if port := parsed.Port(); port != "" {
		parts = append(parts, "port-"+port)
	}
	if parsed.Path != "" && parsed.Path != "/" {
		parts = append(parts, anonymizeURLPath(parsed.Path))
	}

	sum := sha256.Sum256([]byte(strings.Join(parts, ":")))
	return fmt.Sprintf("url-%x", sum[:12])
}

// AnonymizePath replaces a filesystem path with a stable placeholder that
// keeps only the file extension, enough to tell a WAV ref from a config
// file in a scrubbed message.
func AnonymizePath(path string) string {
	sum := sha256.Sum256([]byte(path))
	return fmt.Sprintf("path-%x%s", sum[:4], strings.ToLower(filepath.Ext(path)))
}

// SanitizeBrokerURL strips credentials, path, and query from a broker or
// upload URL so it can appear in log output. Strings without a scheme come
// back unchanged.
func SanitizeBrokerURL(raw string) string {
	if !strings.Contains(raw, "://") {
		return raw
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return AnonymizeURL(raw)
	}
	sanitized := url.URL{Scheme: parsed.Scheme, Host: parsed.Host}
	return sanitized.String()
}

// GenerateSystemID returns a new anonymous system identifier in the form
// XXXX-XXXX-XXXX. The value is random and carries no hardware or user
// information.
func GenerateSystemID() (string, error) {
	raw := make([]byte, 6)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	id := strings.ToUpper(hex.EncodeToString(raw))
	return id[0:4] + "-" + id[4:8] + "-" + id[8:12], nil
}

// IsValidSystemID reports whether id has the generated XXXX-XXXX-XXXX form.
func IsValidSystemID(id string) bool {
	return systemIDPattern.MatchString(id)
}

// categorizeHost maps a hostname to a coarse class that is safe to hash
// into the URL token. The class keeps localhost failures distinguishable
// from remote ones without naming the remote.
func categorizeHost(host string) string {
	if host == "localhost" {
		return "localhost"
	}
	if ip := net.ParseIP(host); ip != nil {
		switch {
		case ip.IsLoopback():
			return "localhost"
		case ip.IsPrivate(), ip.IsLinkLocalUnicast():
			return "private-ip"
		default:
			return "public-ip"
		}
	}
	if i := strings.LastIndex(host, "."); i > 0 && i < len(host)-1 {
		return "domain-" + strings.ToLower(host[i+1:])
	}
	return "unknown-host"
}

// commonSegments are URL path segments generic enough to keep verbatim;
// everything else is hashed per segment so the path shape survives.
var commonSegments = map[string]bool{
	"api":     true,
	"v1":      true,
	"v2":      true,
	"tasks":   true,
	"results": true,
	"audio":   true,
	"models":  true,
	"stream":  true,
	"ws":      true,
}

func anonymizeURLPath(path string) string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return "root"
	}

	segments := strings.Split(trimmed, "/")
	anonymized := make([]string, 0, len(segments))
	for _, segment := range segments {
		if segment == "" {
			continue
		}
		lowered := strings.ToLower(segment)
		switch {
		case commonSegments[lowered]:
			anonymized = append(anonymized, lowered)
		case isNumeric(segment):
			anonymized = append(anonymized, "id")
		default:
			sum := sha256.Sum256([]byte(segment))
			anonymized = append(anonymized, fmt.Sprintf("seg-%x", sum[:4]))
		}
	}

	return strings.Join(anonymized, "/")
}

func isNumeric(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

// SanitizedError wraps an error so Error() yields the scrubbed message
// while the original stays reachable through Unwrap for errors.Is checks.
type SanitizedError struct {
	original error
	scrubbed string
}

// Error returns the scrubbed message, safe for logging.
func (e *SanitizedError) Error() string {
	return e.scrubbed
}

// Unwrap returns the original error.
func (e *SanitizedError) Unwrap() error {
	return e.original
}

// WrapError returns err with its message scrubbed for safe logging, or nil
// when err is nil.
func WrapError(err error) error {
	if err == nil {
		return nil
	}
	return &SanitizedError{original: err, scrubbed: ScrubMessage(err.Error())}
}
