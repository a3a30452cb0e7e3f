// Package principal models on-behalf-of service principals and their bindings.
//
// A principal is a non-human identity the gateway provisions per end user.
// Records here are metadata-only; credential material never enters this
// package.
package principal

import (
	"errors"
	"strings"
)

var (
	// ErrEmptyUserID indicates a user ID is required.
	ErrEmptyUserID = errors.New("user id is required")
	// ErrEmptyClientID indicates a client ID is required.
	ErrEmptyClientID = errors.New("client id is required")
)

// ServicePrincipal is a directory-side identity provisioned for one user.
type ServicePrincipal struct {
	// ApplicationID is the stable external identifier used in grants and
	// mapping rows.
	ApplicationID string
	// NumericID is the directory-internal identifier; it is required only for
	// credential secret issuance and lives in a distinct namespace from
	// ApplicationID.
	NumericID string
	DisplayName string
	Active      bool
}

// BindInput holds the two operator-supplied identifiers of a bind request.
type BindInput struct {
	// UserID is the human user identifier.
	UserID string
	// ClientID is the tenant/row-scoping key the principal is bound to; it is
	// unrelated to OAuth client credentials.
	ClientID string
}

// NormalizeBindInput trims and validates bind input.
func NormalizeBindInput(input BindInput) (BindInput, error) {
	input.UserID = strings.TrimSpace(input.UserID)
	if input.UserID == "" {
		return BindInput{}, ErrEmptyUserID
	}

	input.ClientID = strings.TrimSpace(input.ClientID)
	if input.ClientID == "" {
		return BindInput{}, ErrEmptyClientID
	}

	return input, nil
}

// DisplayName derives the deterministic directory display name for a user.
func DisplayName(userID string) string {
	return "sp-" + strings.TrimSpace(userID)
}
