package update

import (
	"fmt"
	"runtime"

	goversion "github.com/hashicorp/go-version"

	"github.com/baajur/prisma-engines/cli/internal/ui"
)

// latestKnownVersion is the newest release this build knows about. Release
// automation bumps it; there is no phone-home check at runtime.
const latestKnownVersion = "0.1.0"

// CheckForUpdates compares the running version against the latest known
// release and prints upgrade instructions when it is behind
func CheckForUpdates(currentVersion string) error {
	current, err := goversion.NewVersion(currentVersion)
	if err != nil {
		return fmt.Errorf("invalid version format: %w", err)
	}

	latest, err := goversion.NewVersion(latestKnownVersion)
	if err != nil {
		return fmt.Errorf("invalid latest version format: %w", err)
	}

	if current.LessThan(latest) {
		ui.PrintWarning("A new version is available!")
		fmt.Printf("Current version: %s\n", currentVersion)
		fmt.Printf("Latest version:  %s\n", latestKnownVersion)
		fmt.Printf("\nUpdate with: go install github.com/baajur/prisma-engines/cli@latest\n")
	}

	return nil
}

// GetDownloadURL returns the release asset URL for the current platform
func GetDownloadURL(version string) string {
	return fmt.Sprintf("https://github.com/baajur/prisma-engines/releases/download/v%s/prisma-migrate-%s-%s",
		version, runtime.GOOS, runtime.GOARCH)
}
