package session

// Status is the lifecycle state of a capture session.
type Status int

const (
	StatusUnset Status = iota
	StatusInitialized
	StatusPlaying
	StatusStopped
)

func (s Status) String() string {
	switch s {
	case StatusUnset:
		return "Unset"
	case StatusInitialized:
		return "Initialized"
	case StatusPlaying:
		return "Playing"
	case StatusStopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}
