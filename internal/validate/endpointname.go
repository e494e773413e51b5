package validate

import (
	"fmt"
	"regexp"
)

// endpointNameRe matches DNS-label-style endpoint names: 1-63 lowercase
// alphanumeric or hyphens, starting and ending with alphanumeric. Endpoint
// names are used as map keys and in daemon API paths, so they're held to
// the same safe-identifier shape a DHT namespace would be.
var endpointNameRe = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?$`)

// EndpointName checks that an endpoint name is safe to use as an
// identifier.
func EndpointName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: name cannot be empty", ErrInvalidEndpointName)
	}
	if !endpointNameRe.MatchString(name) {
		return fmt.Errorf("%w: %q must be 1-63 lowercase alphanumeric characters or hyphens, starting and ending with alphanumeric", ErrInvalidEndpointName, name)
	}
	return nil
}
