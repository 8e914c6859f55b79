package access

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidFeature marks a lookup of a feature outside the catalogue.
	ErrInvalidFeature = errors.New("access: invalid feature")
	// ErrInvalidCatalogue is returned when a feature table fails validation.
	ErrInvalidCatalogue = errors.New("access: invalid feature table")
	// ErrMalformedPermissions marks a permission document that is missing or not an object.
	ErrMalformedPermissions = errors.New("access: malformed permission document")
	// ErrUnknownPermission marks a permission key outside the catalogue.
	ErrUnknownPermission = errors.New("access: unknown permission key")
)

// InvalidFeatureError reports a caller passing a feature the catalogue does not declare.
type InvalidFeatureError struct {
	Feature Feature
}

func (e *InvalidFeatureError) Error() string {
	return fmt.Sprintf("access: invalid feature %q", string(e.Feature))
}

// Is lets errors.Is match ErrInvalidFeature.
func (e *InvalidFeatureError) Is(target error) bool {
	return target == ErrInvalidFeature
}
