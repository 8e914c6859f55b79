package users

import "encoding/json"

// Record is the subset of a backend user document the gate consumes.
type Record struct {
	Role        string          `json:"role"`
	Permissions json.RawMessage `json:"permissions"`
}
