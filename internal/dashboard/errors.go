package dashboard

import "errors"

var (
	// ErrUpstream wraps every transport or status failure of an upstream API.
	ErrUpstream = errors.New("upstream request failed")

	// ErrNoMenu means no day with dishes was found in the lookahead window.
	ErrNoMenu = errors.New("no menu available")

	// ErrStationNotFound means the transit location search returned no station.
	ErrStationNotFound = errors.New("station not found")
)
