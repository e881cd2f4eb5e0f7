package shared

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
)

// browserCommand returns the launcher for goos, or false when the platform has none.
func browserCommand(goos, url string) (string, []string, bool) {
	switch goos {
	case "darwin":
		return "open", []string{url}, true
	case "linux", "freebsd", "openbsd":
		return "xdg-open", []string{url}, true
	case "windows":
		return "rundll32", []string{"url.dll,FileProtocolHandler", url}, true
	}
	return "", nil, false
}

// OpenBrowser asks the desktop to open url. It does not wait for the browser to exit.
func OpenBrowser(ctx context.Context, url string) error {
	name, args, ok := browserCommand(runtime.GOOS, url)
	if !ok {
		return fmt.Errorf("%w: no browser launcher for %s", ErrNotImplemented, runtime.GOOS)
	}
	if err := exec.CommandContext(ctx, name, args...).Start(); err != nil {
		return fmt.Errorf("failed to open browser: %w", err)
	}
	return nil
}
