package browser

// Status is the lifecycle state of the shared browser.
type Status int32

const (
	// StatusIdle means no browser is running; the next Acquire launches one.
	StatusIdle Status = iota
	StatusLaunching
	StatusReady
	StatusResetting
	StatusClosed
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusLaunching:
		return "launching"
	case StatusReady:
		return "ready"
	case StatusResetting:
		return "resetting"
	case StatusClosed:
		return "closed"
	default:
		return "unknown"
	}
}
