package validation

import (
	"math"
	"strings"
	"testing"

	"github.com/xtxerr/rastercalc/internal/errors"
)

func TestValidateSymbolName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"simple", "x", false},
		{"with digits", "band2", false},
		{"with underscore", "_ndvi_2020", false},
		{"unicode letter", "höhe", false},
		{"empty", "", true},
		{"leading digit", "2x", true},
		{"hyphen", "a-b", true},
		{"dot", "a.b", true},
		{"space", "a b", true},
		{"control char", "a\x00b", true},
		{"reserved", "percentile", true},
		{"reserved any case", "MASK", true},
		{"too long", strings.Repeat("a", MaxSymbolLength+1), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSymbolName(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateSymbolName(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestValidatePercentile(t *testing.T) {
	for _, p := range []float64{0, 50, 99.9, 100} {
		if err := ValidatePercentile(p); err != nil {
			t.Errorf("ValidatePercentile(%v) = %v", p, err)
		}
	}
	for _, p := range []float64{-0.1, 100.5, math.NaN(), math.Inf(1)} {
		err := ValidatePercentile(p)
		if !errors.Is(err, errors.ErrInvalidPercentile) {
			t.Errorf("ValidatePercentile(%v) = %v, want ErrInvalidPercentile", p, err)
		}
	}
}

func TestValidateBand(t *testing.T) {
	if err := ValidateBand(0); err != nil {
		t.Errorf("band 0 selects band 1: %v", err)
	}
	if err := ValidateBand(3); err != nil {
		t.Errorf("ValidateBand(3) = %v", err)
	}
	if err := ValidateBand(-1); err == nil {
		t.Error("expected error for negative band")
	}
}

func TestParseLocation(t *testing.T) {
	tests := []struct {
		input  string
		scheme Scheme
		remote bool
		path   string
		bucket string
		key    string
	}{
		{"/data/a.parquet", SchemeLocal, false, "/data/a.parquet", "", ""},
		{"rel/a.parquet", SchemeLocal, false, "rel/a.parquet", "", ""},
		{"/data/100% cover.parquet", SchemeLocal, false, "/data/100% cover.parquet", "", ""},
		{"file:///data/a.parquet", SchemeFile, false, "/data/a.parquet", "", ""},
		{"https://example.com/a.parquet?sig=1", SchemeHTTPS, true, "", "", ""},
		{"HTTP://example.com/a.parquet", SchemeHTTP, true, "", "", ""},
		{"s3://my-bucket/tiles/a.parquet", SchemeS3, true, "", "my-bucket", "tiles/a.parquet"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			loc, err := ParseLocation(tt.input)
			if err != nil {
				t.Fatalf("ParseLocation: %v", err)
			}
			if loc.Scheme != tt.scheme {
				t.Errorf("scheme = %s, want %s", loc.Scheme, tt.scheme)
			}
			if loc.IsRemote() != tt.remote {
				t.Errorf("IsRemote = %v, want %v", loc.IsRemote(), tt.remote)
			}
			if loc.Path != tt.path || loc.Bucket != tt.bucket || loc.Key != tt.key {
				t.Errorf("unexpected location %+v", loc)
			}
		})
	}
}

func TestParseLocation_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"blank", "   "},
		{"http without host", "http:///a.parquet"},
		{"s3 without key", "s3://my-bucket/"},
		{"s3 bad bucket", "s3://My_Bucket/a.parquet"},
		{"file without path", "file://"},
		{"unsupported", "ftp://host/a.parquet"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseLocation(tt.input); err == nil {
				t.Errorf("ParseLocation(%q) should fail", tt.input)
			}
		})
	}

	_, err := ParseLocation("gs://bucket/a.parquet")
	if !errors.Is(err, errors.ErrUnsupportedScheme) {
		t.Errorf("expected ErrUnsupportedScheme, got %v", err)
	}
}

func TestLocationString(t *testing.T) {
	for _, in := range []string{
		"/data/a.parquet",
		"s3://my-bucket/tiles/a.parquet",
		"https://example.com/a.parquet?sig=1",
	} {
		loc, err := ParseLocation(in)
		if err != nil {
			t.Fatalf("ParseLocation(%q): %v", in, err)
		}
		if loc.String() != in {
			t.Errorf("String() = %q, want %q", loc.String(), in)
		}
	}
}

func TestValidateBucketName(t *testing.T) {
	tests := []struct {
		input   string
		wantErr bool
	}{
		{"abc", false},
		{"my.bucket-1", false},
		{"ab", true},
		{strings.Repeat("a", 64), true},
		{"-abc", true},
		{"abc.", true},
		{"a..b", true},
		{"ABC", true},
		{"a_b", true},
	}
	for _, tt := range tests {
		if err := ValidateBucketName(tt.input); (err != nil) != tt.wantErr {
			t.Errorf("ValidateBucketName(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
		}
	}
}
