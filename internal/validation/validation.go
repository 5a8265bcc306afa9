// Package validation provides centralized input validation for rastercalc.
package validation

import (
	"fmt"
	"math"
	"net/url"
	"strings"
	"unicode"

	"github.com/xtxerr/rastercalc/internal/errors"
)

// =============================================================================
// Symbol Name Validation
// =============================================================================

// MaxSymbolLength bounds symbol names.
const MaxSymbolLength = 255

// reserved names are function calls in the expression language.
var reserved = map[string]bool{
	"percentile": true,
	"mask":       true,
}

// ValidateSymbolName checks name is an identifier the expression parser can
// produce: a letter or underscore followed by letters, digits or
// underscores, and not a function name.
func ValidateSymbolName(name string) error {
	if name == "" {
		return fmt.Errorf("symbol name cannot be empty")
	}
	if len(name) > MaxSymbolLength {
		return fmt.Errorf("symbol name too long: maximum %d characters allowed", MaxSymbolLength)
	}

	for i, r := range name {
		if r < 32 || r == 127 {
			return fmt.Errorf("symbol name cannot contain control characters at position %d", i)
		}
		if i == 0 && unicode.IsDigit(r) {
			return fmt.Errorf("symbol name cannot start with a digit")
		}
		if r != '_' && !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return fmt.Errorf("invalid character '%c' at position %d", r, i)
		}
	}

	if reserved[strings.ToLower(name)] {
		return fmt.Errorf("symbol name %q is reserved", name)
	}
	return nil
}

// =============================================================================
// Band and Percentile Validation
// =============================================================================

// ValidateBand checks a 1-based band index. Zero selects band 1.
func ValidateBand(band int) error {
	if band < 0 {
		return fmt.Errorf("band %d must be positive", band)
	}
	return nil
}

// ValidatePercentile checks p is a number in [0,100].
func ValidatePercentile(p float64) error {
	if math.IsNaN(p) || p < 0 || p > 100 {
		return fmt.Errorf("%w: %v", errors.ErrInvalidPercentile, p)
	}
	return nil
}

// =============================================================================
// Location Parsing
// =============================================================================

// Scheme is the kind of a raster location.
type Scheme string

const (
	SchemeLocal Scheme = "local"
	SchemeFile  Scheme = "file"
	SchemeHTTP  Scheme = "http"
	SchemeHTTPS Scheme = "https"
	SchemeS3    Scheme = "s3"
)

// Location is a parsed raster location.
type Location struct {
	Scheme Scheme

	// Path is the local filesystem path for local and file locations.
	Path string

	// Bucket and Key are set for s3 locations.
	Bucket string
	Key    string

	// URL is the parsed form for remote locations.
	URL *url.URL
}

// IsRemote reports whether the location must be downloaded before use.
func (l *Location) IsRemote() bool {
	switch l.Scheme {
	case SchemeHTTP, SchemeHTTPS, SchemeS3:
		return true
	}
	return false
}

// String returns the location as given to ParseLocation.
func (l *Location) String() string {
	switch l.Scheme {
	case SchemeLocal:
		return l.Path
	case SchemeS3:
		return "s3://" + l.Bucket + "/" + l.Key
	default:
		if l.URL != nil {
			return l.URL.String()
		}
		return string(l.Scheme) + "://" + l.Path
	}
}

// ParseLocation parses a plain path, a file:// URL, an http(s) URL or an
// s3://bucket/key reference.
func ParseLocation(loc string) (*Location, error) {
	if strings.TrimSpace(loc) == "" {
		return nil, fmt.Errorf("empty location")
	}

	// Paths may hold characters that are not valid in a URL.
	if !strings.Contains(loc, "://") {
		return &Location{Scheme: SchemeLocal, Path: loc}, nil
	}

	u, err := url.Parse(loc)
	if err != nil {
		return nil, fmt.Errorf("invalid location %q: %w", loc, err)
	}

	switch strings.ToLower(u.Scheme) {
	case "file":
		if u.Path == "" {
			return nil, fmt.Errorf("invalid location %q: empty path", loc)
		}
		return &Location{Scheme: SchemeFile, Path: u.Path, URL: u}, nil
	case "http", "https":
		if u.Host == "" {
			return nil, fmt.Errorf("invalid location %q: empty host", loc)
		}
		return &Location{Scheme: Scheme(strings.ToLower(u.Scheme)), URL: u}, nil
	case "s3":
		bucket, key := u.Host, strings.TrimPrefix(u.Path, "/")
		if err := ValidateBucketName(bucket); err != nil {
			return nil, fmt.Errorf("invalid location %q: %w", loc, err)
		}
		if key == "" {
			return nil, fmt.Errorf("invalid location %q: empty key", loc)
		}
		return &Location{Scheme: SchemeS3, Bucket: bucket, Key: key, URL: u}, nil
	}

	return nil, fmt.Errorf("%w: %q in %s", errors.ErrUnsupportedScheme, u.Scheme, loc)
}

// ValidateBucketName checks the common S3 bucket naming rules: 3 to 63
// lowercase letters, digits, dots or hyphens, starting and ending with a
// letter or digit.
func ValidateBucketName(bucket string) error {
	if len(bucket) < 3 || len(bucket) > 63 {
		return fmt.Errorf("bucket name %q must be 3 to 63 characters", bucket)
	}
	for i, r := range bucket {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
		case r == '.' || r == '-':
			if i == 0 || i == len(bucket)-1 {
				return fmt.Errorf("bucket name %q must start and end with a letter or digit", bucket)
			}
		default:
			return fmt.Errorf("invalid character '%c' in bucket name at position %d", r, i)
		}
	}
	if strings.Contains(bucket, "..") {
		return fmt.Errorf("bucket name %q cannot contain '..'", bucket)
	}
	return nil
}
