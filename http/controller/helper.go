package controller

import (
	"fmt"
	"net/url"
)

// ValidateAbsoluteURL rejects anything that is not an absolute http(s)
// URL. Used for audio sources and webhook targets before any job row is
// written.
func ValidateAbsoluteURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("malformed URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("URL must be absolute")
	}
	return nil
}
