package registry

import (
	"encoding/json"
	"os"

	"github.com/moby/sys/atomicwriter"

	"github.com/lemonade-sh/lemonade-router/pkg/apierror"
)

// readJSONFile decodes path into v. A missing file is not an error; v is
// left untouched so the caller's zero value stands.
func readJSONFile(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return apierror.Wrap(apierror.KindBadRequest, "reading "+path, err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return apierror.Wrap(apierror.KindBadRequest, "parsing "+path, err)
	}
	return nil
}

// writeJSONFileAtomic marshals v and writes it to path via write-to-temp-
// then-rename, per spec.md §4.3's "persistence is atomic" requirement.
func writeJSONFileAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return apierror.Wrap(apierror.KindBadRequest, "marshaling "+path, err)
	}
	if err := atomicwriter.WriteFile(path, data, 0o644); err != nil {
		return apierror.Wrap(apierror.KindBadRequest, "writing "+path, err)
	}
	return nil
}
