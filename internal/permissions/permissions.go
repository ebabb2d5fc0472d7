package permissions

// Status mirrors the OS microphone authorization states
type Status int

const (
	NotDetermined Status = iota
	Restricted
	Denied
	Authorized
)

func (s Status) String() string {
	switch s {
	case NotDetermined:
		return "not-determined"
	case Restricted:
		return "restricted"
	case Denied:
		return "denied"
	case Authorized:
		return "authorized"
	default:
		return "unknown"
	}
}

// Refused reports whether the OS will reject capture without asking.
func (s Status) Refused() bool {
	return s == Restricted || s == Denied
}
