package snapshot

import "errors"

var (
	// ErrRenderTimeout means the render budget ran out.
	ErrRenderTimeout = errors.New("render budget exhausted")
	// ErrRenderFailure covers every other failed render.
	ErrRenderFailure = errors.New("render failed")
)
