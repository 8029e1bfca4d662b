// Package collection maps logical collection names onto tenant-prefixed
// backend tables.
package collection

import (
	"fmt"
	"regexp"
	"strings"
)

// Separator joins the tenant prefix and the logical name.
const Separator = "_"

const MaxNameLength = 128

var validNamePattern = regexp.MustCompile(`^[A-Za-z0-9\-.]+$`)

// ValidateName checks a logical collection name. Names may not contain the
// separator, so a physical table id always splits back unambiguously.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: %w", ErrInvalidName, ErrEmptyName)
	}
	if len(name) > MaxNameLength {
		return fmt.Errorf("%w: %w", ErrInvalidName, ErrNameTooLong)
	}
	if strings.Contains(name, Separator) {
		return fmt.Errorf("%w: %q: %w", ErrInvalidName, name, ErrContainsSeparator)
	}
	if !validNamePattern.MatchString(name) {
		return fmt.Errorf("%w: %q: %w", ErrInvalidName, name, ErrInvalidCharacters)
	}
	return nil
}

// ValidatePrefix checks a tenant prefix. The empty prefix is valid.
func ValidatePrefix(prefix string) error {
	if prefix == "" {
		return nil
	}
	if strings.Contains(prefix, Separator) {
		return fmt.Errorf("%w: prefix %q: %w", ErrInvalidName, prefix, ErrContainsSeparator)
	}
	if !validNamePattern.MatchString(prefix) {
		return fmt.Errorf("%w: prefix %q: %w", ErrInvalidName, prefix, ErrInvalidCharacters)
	}
	return nil
}

// Resolve returns the physical table id for a logical collection.
func Resolve(prefix, logical string) (string, error) {
	if err := ValidatePrefix(prefix); err != nil {
		return "", err
	}
	if err := ValidateName(logical); err != nil {
		return "", err
	}
	if prefix == "" {
		return logical, nil
	}
	return prefix + Separator + logical, nil
}

// Logical returns the logical collection name for a physical table id.
func Logical(prefix, physical string) (string, error) {
	if err := ValidatePrefix(prefix); err != nil {
		return "", err
	}
	name := physical
	if prefix != "" {
		rest, ok := strings.CutPrefix(physical, prefix+Separator)
		if !ok {
			return "", fmt.Errorf("%w: %q: %w", ErrInvalidName, physical, ErrNotPrefixed)
		}
		name = rest
	}
	if err := ValidateName(name); err != nil {
		return "", err
	}
	return name, nil
}
