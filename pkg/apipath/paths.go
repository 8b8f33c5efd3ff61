// Package apipath centralizes the HTTP path and header constants shared by
// the router and its middleware, so that neither package needs to import
// the other just to agree on a prefix string.
package apipath

const (
	// APIPrefixV1 is the versioned prefix most routes live under.
	APIPrefixV1 = "/api/v1"
	// APIPrefixV0 is accepted as an alias of APIPrefixV1 for chat completions.
	APIPrefixV0 = "/api/v0"
	// InferencePrefix is prepended to bare OpenAI-shape paths (e.g. "/v1/...")
	// by AliasHandler so they resolve against the versioned router.
	InferencePrefix = "/api"

	// RequestOriginHeader identifies the logical client that issued a
	// request, for allow-listing purposes in usage tracking.
	RequestOriginHeader = "X-Request-Origin"

	// AuthorizationHeader is the standard bearer-token header.
	AuthorizationHeader = "Authorization"
)
