package failure

import "strings"

// exitCodeInterrupted is the conventional 128+SIGINT exit code.
const exitCodeInterrupted = 130

// kindPatterns is evaluated in order; the first needle found in the lowered
// output decides the kind. Order is the fixed precedence
// Permission > DiskSpace > Network > PackageManager > MountBusy.
var kindPatterns = []struct {
	kind    Kind
	needles []string
}{
	{KindPermission, []string{
		"permission denied",
		"operation not permitted",
		"must be run as root",
	}},
	{KindDiskSpace, []string{
		"no space left on device",
		"disk full",
		"insufficient space",
	}},
	{KindNetwork, []string{
		"network is unreachable",
		"temporary failure resolving",
		"could not resolve",
		"connection refused",
		"connection timed out",
		"failed to fetch",
	}},
	{KindPackageManager, []string{
		"dpkg was interrupted",
		"unmet dependencies",
		"unable to lock",
		"hash sum mismatch",
		"broken packages",
	}},
	{KindMountBusy, []string{
		"device or resource busy",
		"target is busy",
		"mount point is busy",
	}},
}

// Classify maps an exit code and captured output to a Kind. Interrupted is
// derived solely from the exit code; everything else is a best-effort,
// case-insensitive substring match against the output. Unmatched failures
// fall through to KindUnknown.
func Classify(exitCode int, output string) Kind {
	if exitCode == exitCodeInterrupted {
		return KindInterrupted
	}
	lowered := strings.ToLower(output)
	for _, p := range kindPatterns {
		for _, needle := range p.needles {
			if strings.Contains(lowered, needle) {
				return p.kind
			}
		}
	}
	return KindUnknown
}
