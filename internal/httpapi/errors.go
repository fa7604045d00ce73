package httpapi

import "errors"

var (
	errMissingEventVariant = errors.New("httpapi: event has neither Add nor Delete")
	errUnknownSecurity     = errors.New("httpapi: unknown security")
	errUnknownSide         = errors.New("httpapi: unknown side")
)
