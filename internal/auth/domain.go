// Package auth extracts the caller's identity from bearer tokens issued by
// the backend login endpoint.
package auth

import "github.com/horsemanagement/stablegate/internal/access"

// Identity is the verified subject of a request.
type Identity struct {
	UserID string
	Role   access.Role
	// Token is the raw bearer token, forwarded to the backend.
	Token string
}
