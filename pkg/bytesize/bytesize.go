// Package bytesize provides utilities for parsing and formatting byte sizes.
package bytesize

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Binary byte size units.
const (
	B  int64 = 1
	KB int64 = 1024
	MB int64 = 1024 * KB
	GB int64 = 1024 * MB
	TB int64 = 1024 * GB
)

// sizePattern matches size strings like "5Gi", "1.5 GB", "1024"
var sizePattern = regexp.MustCompile(`^\s*(\d+(?:\.\d+)?)\s*([a-zA-Z]*)\s*$`)

// Parse parses a byte size string like "500MB", "5Gi", or "1024" into bytes.
// All units are binary (powers of 1024). A bare number is bytes.
func Parse(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty size string")
	}

	matches := sizePattern.FindStringSubmatch(s)
	if matches == nil {
		return 0, fmt.Errorf("invalid size format: %q", s)
	}

	value, err := strconv.ParseFloat(matches[1], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number: %q", matches[1])
	}

	var multiplier int64
	switch strings.ToUpper(matches[2]) {
	case "", "B":
		multiplier = B
	case "K", "KB", "KI", "KIB":
		multiplier = KB
	case "M", "MB", "MI", "MIB":
		multiplier = MB
	case "G", "GB", "GI", "GIB":
		multiplier = GB
	case "T", "TB", "TI", "TIB":
		multiplier = TB
	default:
		return 0, fmt.Errorf("unknown unit: %q", matches[2])
	}

	return int64(value * float64(multiplier)), nil
}

// Format formats a byte count into a human-readable string.
func Format(bytes int64) string {
	units := []struct {
		threshold int64
		unit      string
	}{
		{TB, "TiB"},
		{GB, "GiB"},
		{MB, "MiB"},
		{KB, "KiB"},
	}

	for _, u := range units {
		if bytes >= u.threshold {
			return fmt.Sprintf("%.2f %s", float64(bytes)/float64(u.threshold), u.unit)
		}
	}

	return fmt.Sprintf("%d B", bytes)
}

// Size is a byte size that can be unmarshaled from YAML as either
// a number (bytes) or a string with units ("5Gi", "500MB").
type Size int64

// UnmarshalYAML implements yaml.Unmarshaler for Size.
func (s *Size) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("size must be a scalar, got %s", node.Tag)
	}

	if node.Tag == "!!int" {
		i, err := strconv.ParseInt(node.Value, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid size %q: %w", node.Value, err)
		}
		*s = Size(i)
		return nil
	}

	bytes, err := Parse(node.Value)
	if err != nil {
		return fmt.Errorf("invalid size %q: %w", node.Value, err)
	}
	*s = Size(bytes)
	return nil
}

// Bytes returns the size in bytes.
func (s Size) Bytes() int64 {
	return int64(s)
}

// String returns a human-readable representation.
func (s Size) String() string {
	return Format(int64(s))
}
