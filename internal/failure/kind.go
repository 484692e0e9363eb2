// Package failure classifies external command failures into a closed
// set of kinds that drive recovery policy selection.
package failure

// Kind is the closed classification of a command failure. New kinds must be
// added here so every switch over Kind is forced to handle them.
type Kind int

const (
	KindPermission Kind = iota
	KindDiskSpace
	KindNetwork
	KindPackageManager
	KindMountBusy
	KindInterrupted
	KindUnknown
	// KindSessionCompromised is a meta-kind raised only by the session
	// monitor, never by output classification.
	KindSessionCompromised
)

func (k Kind) String() string {
	switch k {
	case KindPermission:
		return "permission"
	case KindDiskSpace:
		return "disk_space"
	case KindNetwork:
		return "network"
	case KindPackageManager:
		return "package_manager"
	case KindMountBusy:
		return "mount_busy"
	case KindInterrupted:
		return "interrupted"
	case KindUnknown:
		return "unknown"
	case KindSessionCompromised:
		return "session_compromised"
	}
	return "invalid"
}

// ParseKind maps a stored string back to its Kind. Unrecognized input yields
// KindUnknown so historical rows with newer kinds still load.
func ParseKind(s string) Kind {
	for k := KindPermission; k <= KindSessionCompromised; k++ {
		if k.String() == s {
			return k
		}
	}
	return KindUnknown
}
