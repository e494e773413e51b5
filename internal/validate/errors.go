package validate

import "errors"

var (
	// ErrInvalidEndpointName is returned when an endpoint name does not
	// match the DNS-label format (1-63 lowercase alphanumeric + hyphens).
	ErrInvalidEndpointName = errors.New("invalid endpoint name")
)
