// Package update checks for newer CLI releases and figures out how this
// binary was installed so the upgrade command can do the right thing.
package update

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/Masterminds/semver/v3"
)

const latestReleaseURL = "https://api.github.com/repos/skimmr/cli/releases/latest"

// InstallMethod identifies how the skimmr binary was installed.
type InstallMethod string

const (
	InstallMethodBrew    InstallMethod = "brew"
	InstallMethodNPM     InstallMethod = "npm"
	InstallMethodPNPM    InstallMethod = "pnpm"
	InstallMethodBun     InstallMethod = "bun"
	InstallMethodUnknown InstallMethod = "unknown"
)

type releaseResponse struct {
	TagName string `json:"tag_name"`
	HTMLURL string `json:"html_url"`
}

// FetchLatest returns the latest release tag and its release-notes URL.
func FetchLatest(ctx context.Context) (string, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, latestReleaseURL, nil)
	if err != nil {
		return "", "", err
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("release check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("release check failed: %s", resp.Status)
	}

	var release releaseResponse
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		return "", "", fmt.Errorf("invalid release response: %w", err)
	}
	if release.TagName == "" {
		return "", "", fmt.Errorf("release response contained no tag")
	}
	return release.TagName, release.HTMLURL, nil
}

// IsNewerVersion reports whether latest is a strictly newer semver than
// current. Dev builds (non-semver versions) return an error so callers can
// decide what to do.
func IsNewerVersion(current, latest string) (bool, error) {
	cur, err := semver.NewVersion(strings.TrimPrefix(current, "v"))
	if err != nil {
		return false, fmt.Errorf("parsing current version %q: %w", current, err)
	}
	lat, err := semver.NewVersion(strings.TrimPrefix(latest, "v"))
	if err != nil {
		return false, fmt.Errorf("parsing latest version %q: %w", latest, err)
	}
	return lat.GreaterThan(cur), nil
}

// installMethodRule pairs a path predicate with the method it indicates.
type installMethodRule struct {
	method InstallMethod
	check  func(path string) bool
}

// installMethodRules returns the detection rules in precedence order.
func installMethodRules() []installMethodRule {
	return []installMethodRule{
		{InstallMethodBun, pathMatchesBun},
		{InstallMethodPNPM, pathMatchesPNPM},
		{InstallMethodNPM, pathMatchesNPM},
		{InstallMethodBrew, pathMatchesHomebrew},
	}
}

// DetectInstallMethod inspects the running binary's path to guess how it was
// installed. The binary path is returned for manual-upgrade instructions.
func DetectInstallMethod() (InstallMethod, string) {
	exe, err := os.Executable()
	if err != nil {
		return InstallMethodUnknown, ""
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}

	for _, r := range installMethodRules() {
		if r.check(exe) {
			return r.method, exe
		}
	}
	return InstallMethodUnknown, exe
}

func pathMatchesHomebrew(path string) bool {
	return strings.Contains(path, "/Cellar/") ||
		strings.Contains(path, "/homebrew/") ||
		strings.Contains(path, "/linuxbrew/")
}

func pathMatchesNPM(path string) bool {
	return strings.Contains(path, "/.npm-global/") ||
		strings.Contains(path, "/.npm/") ||
		strings.Contains(path, "/node_modules/") ||
		strings.Contains(path, "/npm/bin/")
}

func pathMatchesPNPM(path string) bool {
	return strings.Contains(path, "/pnpm/") ||
		strings.Contains(path, "/.pnpm/")
}

func pathMatchesBun(path string) bool {
	return strings.Contains(path, "/.bun/")
}

// suggestUpgradeCommandForMethod returns the upgrade command for the given
// method, defaulting to brew for unknown installs.
func suggestUpgradeCommandForMethod(method InstallMethod) string {
	switch method {
	case InstallMethodNPM:
		return "npm i -g @skimmr/cli@latest"
	case InstallMethodPNPM:
		return "pnpm add -g @skimmr/cli@latest"
	case InstallMethodBun:
		return "bun add -g @skimmr/cli@latest"
	default:
		return "brew upgrade skimmr/tap/skimmr"
	}
}

// SuggestUpgradeCommand returns the upgrade command for the detected install.
func SuggestUpgradeCommand() string {
	method, _ := DetectInstallMethod()
	return suggestUpgradeCommandForMethod(method)
}
