package registry

import (
	"github.com/distribution/reference"
	"github.com/opencontainers/go-digest"

	"github.com/lemonade-sh/lemonade-router/pkg/apierror"
)

// ValidateGGUFCheckpoint enforces spec.md §3's "for GGUF the form is
// repo:variant and the variant is required" rule, reusing
// github.com/distribution/reference's normalized-name parser rather than
// hand-rolling a repo/tag splitter: a checkpoint with no explicit tag
// parses to a Named that does not implement NamedTagged, which is exactly
// the "missing variant" condition spec.md calls out.
func ValidateGGUFCheckpoint(checkpoint string) (repo, variant string, err error) {
	named, parseErr := reference.ParseNormalizedNamed(checkpoint)
	if parseErr != nil {
		return "", "", apierror.Wrap(apierror.KindBadRequest, "invalid checkpoint", parseErr)
	}
	tagged, ok := named.(reference.NamedTagged)
	if !ok {
		return "", "", apierror.New(apierror.KindBadRequest, "GGUF checkpoint must be of the form repo:variant")
	}
	return reference.FamiliarName(named), tagged.Tag(), nil
}

// canonicalExtraID derives a stable "extra.<digest>" model id for a
// directory-scanned GGUF file, keyed on its absolute path so re-scanning the
// same directory yields the same id across runs.
func canonicalExtraID(path string) string {
	d := digest.FromString(path)
	return "extra." + d.Encoded()[:16]
}
