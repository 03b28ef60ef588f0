package server

import (
	"fmt"
	"net/url"
	"os/exec"
	"runtime"
	"strings"

	"github.com/conneroisu/sitewright/internal/errors"
)

// ValidateURL rejects anything but a plain http(s) URL before it is handed to
// a system command.
func ValidateURL(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return errors.NewValidationError(errors.CodeInvalidURL, "invalid URL: "+err.Error())
	}

	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return errors.NewValidationError(errors.CodeInvalidURL,
			fmt.Sprintf("invalid URL scheme: %s (only http/https allowed)", parsed.Scheme))
	}

	if strings.ContainsAny(rawURL, ";&|`$()<>\"'\\\n\r ") {
		return errors.NewValidationError(errors.CodeInvalidURL, "URL contains a shell metacharacter or space")
	}

	if parsed.Host == "" {
		return errors.NewValidationError(errors.CodeInvalidURL, "URL must have a valid hostname")
	}

	return nil
}

// OpenBrowser opens rawURL with the platform's default browser.
func OpenBrowser(rawURL string) error {
	if err := ValidateURL(rawURL); err != nil {
		return err
	}

	switch runtime.GOOS {
	case "linux", "freebsd", "openbsd", "netbsd":
		return exec.Command("xdg-open", rawURL).Start()
	case "windows":
		return exec.Command("rundll32", "url.dll,FileProtocolHandler", rawURL).Start()
	case "darwin":
		return exec.Command("open", rawURL).Start()
	default:
		return fmt.Errorf("unsupported platform %s", runtime.GOOS)
	}
}
