package browser

import "errors"

// Resource errors returned by the Manager and the drivers. All of them mean
// the shared browser should be considered faulty.
var (
	ErrLaunchFailed   = errors.New("browser launch failed")
	ErrProbeFailed    = errors.New("browser keepalive probe failed")
	ErrBrowserClosed  = errors.New("browser handle is closed")
	ErrManagerClosed  = errors.New("browser manager is shut down")
	ErrNavigateFailed = errors.New("navigation failed")
)
