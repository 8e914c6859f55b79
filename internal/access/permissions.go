package access

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// DenyAll returns a set with every catalogue key false.
func (c *Catalogue) DenyAll() PermissionSet {
	set := make(PermissionSet, len(c.keys))
	for _, key := range c.keys {
		set[key] = false
	}
	return set
}

// NormalizePermissions projects a decoded permission document onto the
// catalogue keys. A key is granted only when its raw value is boolean true;
// keys outside the catalogue are dropped.
func (c *Catalogue) NormalizePermissions(raw map[string]any) PermissionSet {
	set := c.DenyAll()
	for _, key := range c.keys {
		if v, ok := raw[string(key)].(bool); ok && v {
			set[key] = true
		}
	}
	return set
}

// ParsePermissionDocument normalizes the raw JSON "permissions" member of a
// user record. A missing, null or non-object document yields DenyAll and
// ErrMalformedPermissions.
func (c *Catalogue) ParsePermissionDocument(data json.RawMessage) (PermissionSet, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return c.DenyAll(), fmt.Errorf("%w: permissions missing", ErrMalformedPermissions)
	}
	var raw map[string]any
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return c.DenyAll(), fmt.Errorf("%w: %v", ErrMalformedPermissions, err)
	}
	return c.NormalizePermissions(raw), nil
}

// ValidateUpdate checks an edited permission map against the catalogue and
// returns the total set to persist. Keys left out are stored as false.
func (c *Catalogue) ValidateUpdate(update map[string]bool) (PermissionSet, error) {
	set := c.DenyAll()
	for k, v := range update {
		key := PermissionKey(k)
		if !c.HasKey(key) {
			return nil, fmt.Errorf("%w: %q", ErrUnknownPermission, k)
		}
		set[key] = v
	}
	return set, nil
}
