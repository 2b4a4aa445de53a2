package tool

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// Param validation helpers shared by the tool adapters. They return errors
// phrased for the model that issued the call, so a failed invocation reads
// as a correction ("'url' is required") rather than a stack trace.

// RequireField rejects an empty or whitespace-only string value.
func RequireField(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("'%s' is required", name)
	}
	return nil
}

// RequireFields checks several required string fields at once, reporting the
// first one missing. Arguments alternate name, value, name, value.
func RequireFields(kvs ...string) error {
	if len(kvs)%2 != 0 {
		return fmt.Errorf("RequireFields: odd number of arguments")
	}
	for i := 0; i < len(kvs); i += 2 {
		if err := RequireField(kvs[i], kvs[i+1]); err != nil {
			return err
		}
	}
	return nil
}

// ValidateAll returns the first non-nil error from the given checks:
//
//	if err := ValidateAll(RequireField("url", p.URL), ValidateURL("url", p.URL)); err != nil { ... }
func ValidateAll(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// ValidateRange checks that value falls within [min, max].
func ValidateRange(name string, value, min, max int) error {
	if value >= min && value <= max {
		return nil
	}
	return fmt.Errorf("%s must be %d-%d", name, min, max)
}

// ValidatePositive checks that value is > 0.
func ValidatePositive(name string, value int) error {
	if value > 0 {
		return nil
	}
	return fmt.Errorf("'%s' is required and must be > 0", name)
}

// ValidateEnum checks that value is one of the allowed values. An empty
// value passes (treated as "not set").
func ValidateEnum(name, value string, allowed ...string) error {
	if value == "" {
		return nil
	}
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("invalid %s %q (want: %s)", name, value, joinComma(allowed))
}

// ValidateURL checks that value parses as an absolute HTTP(S) URL. This is a
// shape check only; fetch paths must still pass the SSRF guard before
// dialing. An empty value passes (use RequireField to enforce presence).
func ValidateURL(name, value string) error {
	if value == "" {
		return nil
	}
	u, err := url.Parse(value)
	switch {
	case err != nil:
		return fmt.Errorf("invalid %s: %s", name, err)
	case u.Scheme != "http" && u.Scheme != "https":
		return fmt.Errorf("invalid %s: scheme must be http or https", name)
	case u.Host == "":
		return fmt.Errorf("invalid %s: missing host", name)
	}
	return nil
}

// ValidateMaxLength checks that value does not exceed max bytes. An empty
// value always passes.
func ValidateMaxLength(name, value string, max int) error {
	if len(value) > max {
		return fmt.Errorf("%s exceeds maximum length of %d", name, max)
	}
	return nil
}

// ValidateJSON checks that value is syntactically valid JSON. An empty
// value passes (use RequireField to enforce presence).
func ValidateJSON(name, value string) error {
	if value == "" {
		return nil
	}
	if !json.Valid([]byte(value)) {
		return fmt.Errorf("invalid %s: not valid JSON", name)
	}
	return nil
}
