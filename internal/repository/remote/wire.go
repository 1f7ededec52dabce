// Package remote is the HTTP document-store backend.
//
// The store keeps three collections (accounts, posts, messages), each record a
// single JSON object whose field names match the model package's JSON tags.
// Client implements repository.Repository by talking to a store over HTTP;
// Server exposes any repository.Repository as such a store. The two halves
// share the routes and error body defined in this file, so they cannot drift.
//
// FAILURE MODEL:
// Network errors, timeouts and 5xx responses become
// apperror.ErrBackendUnavailable. Reads are retried once; writes never are,
// because a write that timed out may still have been applied. A failed read is
// never reported as "not found".
package remote

// Route paths served by Server and called by Client.
const (
	pathHealth        = "/healthz"
	pathAccounts      = "/accounts"
	pathAccountLookup = "/account-lookup" // outside /accounts/ so no id is shadowed
	pathPosts         = "/posts"
	pathMessages      = "/messages"
)

// errorBody is the JSON shape of every non-2xx response.
type errorBody struct {
	Error   string `json:"error"`   // machine-readable kind, see apperror.Kind
	Message string `json:"message"` // human-readable description
	Field   string `json:"field,omitempty"`
}

// healthBody is returned by GET /healthz.
type healthBody struct {
	Status  string `json:"status"`
	Backend string `json:"backend"`
}
