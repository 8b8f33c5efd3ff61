package backend

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/lemonade-sh/lemonade-router/pkg/apierror"
	"github.com/lemonade-sh/lemonade-router/pkg/logging"
)

// Installer is the shared idempotent pinned-release installer every
// concrete adapter delegates to, grounded on the teacher's llamaCpp.Install
// version-pinning/cache-directory pattern: a version.txt sibling records
// what's on disk, and the cache is never left half-extracted on failure.
type Installer struct {
	// CacheDir is bin/<recipe>/<backend_tag> per spec.md §6's persisted
	// state layout.
	CacheDir string
	// PinnedVersion is the version this build requires.
	PinnedVersion string
	// Fetch downloads and extracts PinnedVersion into destTmp, a temporary
	// directory EnsureInstalled creates, returning an error on failure.
	// Supplied by the caller since the
	// concrete download mechanism (ModelFetcher-adjacent) is outside this
	// package's concern.
	Fetch func(ctx context.Context, version, destTmp string) error
	// ExecutableName is the binary expected inside CacheDir once
	// installed, used to verify extraction succeeded.
	ExecutableName string
	Log            logging.Logger
}

const versionFileName = "version.txt"

// EnsureInstalled implements the adapter's EnsureInstalled contract: checks
// the version-pinning file, installs only if the on-disk binary is stale or
// absent, and never leaves the cache directory half-extracted.
func (i *Installer) EnsureInstalled(ctx context.Context) (InstallOutcome, error) {
	versionPath := filepath.Join(i.CacheDir, versionFileName)
	exePath := filepath.Join(i.CacheDir, i.ExecutableName)

	if current, err := os.ReadFile(versionPath); err == nil {
		if strings.TrimSpace(string(current)) == i.PinnedVersion {
			if _, statErr := os.Stat(exePath); statErr == nil {
				return InstallOutcome{Upgraded: false, Version: i.PinnedVersion}, nil
			}
		}
	}

	if err := os.MkdirAll(i.CacheDir, 0o755); err != nil {
		return InstallOutcome{}, apierror.Wrap(apierror.KindInstallFailed, "creating install cache directory", err)
	}

	tmpDir, err := os.MkdirTemp(filepath.Dir(i.CacheDir), "install-*")
	if err != nil {
		return InstallOutcome{}, apierror.Wrap(apierror.KindInstallFailed, "creating temp install directory", err)
	}
	defer os.RemoveAll(tmpDir)

	if i.Log != nil {
		i.Log.Infof("installing %s to %s", i.PinnedVersion, i.CacheDir)
	}

	if err := i.Fetch(ctx, i.PinnedVersion, tmpDir); err != nil {
		return InstallOutcome{}, apierror.Wrap(apierror.KindInstallFailed, "fetching release", err)
	}

	tmpExe := filepath.Join(tmpDir, i.ExecutableName)
	if _, err := os.Stat(tmpExe); err != nil {
		return InstallOutcome{}, apierror.Wrap(apierror.KindInstallFailed, fmt.Sprintf("executable %s missing after extract", i.ExecutableName), err)
	}

	// Swap the new install in atomically relative to readers: remove the
	// old directory contents only after the new ones are verified present.
	if err := os.RemoveAll(i.CacheDir); err != nil {
		return InstallOutcome{}, apierror.Wrap(apierror.KindInstallFailed, "clearing stale install", err)
	}
	if err := os.Rename(tmpDir, i.CacheDir); err != nil {
		return InstallOutcome{}, apierror.Wrap(apierror.KindInstallFailed, "moving install into place", err)
	}

	if err := os.WriteFile(versionPath, []byte(i.PinnedVersion), 0o644); err != nil {
		return InstallOutcome{}, apierror.Wrap(apierror.KindInstallFailed, "writing version file", err)
	}

	return InstallOutcome{Upgraded: true, Version: i.PinnedVersion}, nil
}
