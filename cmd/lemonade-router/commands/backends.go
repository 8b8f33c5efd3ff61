package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/lemonade-sh/lemonade-router/pkg/apierror"
	"github.com/lemonade-sh/lemonade-router/pkg/backend"
	"github.com/lemonade-sh/lemonade-router/pkg/backend/flm"
	"github.com/lemonade-sh/lemonade-router/pkg/backend/kokoro"
	"github.com/lemonade-sh/lemonade-router/pkg/backend/llamacpp"
	"github.com/lemonade-sh/lemonade-router/pkg/backend/ryzenai"
	"github.com/lemonade-sh/lemonade-router/pkg/backend/sdcpp"
	"github.com/lemonade-sh/lemonade-router/pkg/backend/whispercpp"
	"github.com/lemonade-sh/lemonade-router/pkg/config"
	"github.com/lemonade-sh/lemonade-router/pkg/logging"
	"github.com/lemonade-sh/lemonade-router/pkg/sysinfo"
)

// pinnedVersions records the engine release each adapter installs, per
// spec.md §4.2's "consults a version-pinning file" contract. These are the
// router's own compatibility pins, independent of whatever happens to be
// on the host already.
var pinnedVersions = map[string]string{
	llamacpp.Name:   "b4700",
	whispercpp.Name: "1.7.2",
	sdcpp.Name:      "master-20240908",
	kokoro.Name:     "0.2.0",
	flm.Name:        "1.0.0",
	ryzenai.Name:    "1.0.0",
}

// executableNames records the binary each adapter's installer verifies is
// present after extraction.
var executableNames = map[string]string{
	llamacpp.Name:   "llama-server",
	whispercpp.Name: "whisper-server",
	sdcpp.Name:      "sd",
	kokoro.Name:     "kokoro-server",
	flm.Name:        "flm-server",
	ryzenai.Name:    "ryzenai-server",
}

// buildBackends constructs the recipe -> adapter map every load/admission
// decision is made against. Engine-binary acquisition (the Fetch func on
// each Installer) is a thin local-override shim: actual download mechanics
// are the ModelFetcher capability's concern, out of scope per spec.md §1.
func buildBackends(cfg config.Settings, log logging.Logger) map[string]backend.Backend {
	newInstaller := func(recipe string) *backend.Installer {
		return &backend.Installer{
			CacheDir:       filepath.Join(cfg.CacheDir, "bin", recipe, pinnedVersions[recipe]),
			PinnedVersion:  pinnedVersions[recipe],
			ExecutableName: executableNames[recipe],
			Log:            log,
			Fetch:          fetchFunc(cfg, recipe, executableNames[recipe]),
		}
	}

	backends := make(map[string]backend.Backend, 6)
	backends[llamacpp.Name] = llamacpp.New(newInstaller(llamacpp.Name), llamacpp.Defaults{
		CtxSize: cfg.CtxSize,
		Backend: cfg.LlamaCppBackend,
		Args:    cfg.LlamaCppArgs,
	})
	backends[whispercpp.Name] = whispercpp.New(newInstaller(whispercpp.Name))
	backends[sdcpp.Name] = sdcpp.New(newInstaller(sdcpp.Name), true)
	backends[kokoro.Name] = kokoro.New(newInstaller(kokoro.Name))
	backends[flm.Name] = flm.New(newInstaller(flm.Name), sysinfo.NPUDriverVersion)
	backends[ryzenai.Name] = ryzenai.New(newInstaller(ryzenai.Name), sysinfo.NPUDriverVersion)
	return backends
}

// fetchFunc resolves an Installer.Fetch implementation for recipe. If the
// operator configured a BackendPathOverrides entry naming a local
// executable (e.g. an engine the user already built from source), that
// binary is copied into the install cache directory in lieu of a network
// download. Otherwise fetching fails explicitly: this router does not ship
// a model-hub or release-artifact client (spec.md §1's Non-goals).
func fetchFunc(cfg config.Settings, recipe, executableName string) func(ctx context.Context, version, destTmp string) error {
	return func(_ context.Context, version, destTmp string) error {
		override, ok := cfg.BackendPathOverrides[recipe]
		if !ok || override == "" {
			return apierror.New(apierror.KindInstallFailed,
				fmt.Sprintf("no download source for %s %s; set a backend path override or pre-install the binary", recipe, version))
		}
		data, err := os.ReadFile(override)
		if err != nil {
			return apierror.Wrap(apierror.KindInstallFailed, fmt.Sprintf("reading overridden %s binary", recipe), err)
		}
		if err := os.WriteFile(filepath.Join(destTmp, executableName), data, 0o755); err != nil {
			return apierror.Wrap(apierror.KindInstallFailed, fmt.Sprintf("staging overridden %s binary", recipe), err)
		}
		return nil
	}
}
