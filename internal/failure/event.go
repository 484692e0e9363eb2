package failure

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event records a single classified command failure. Events are append-only:
// once created they are never mutated, forming the audit trail for the run.
type Event struct {
	ID        string
	Operation string
	Command   string
	ExitCode  int
	Output    string
	Kind      Kind
	Timestamp time.Time
}

// NewEvent builds a classified Event for a failed operation.
func NewEvent(operation, command string, exitCode int, output string) Event {
	return Event{
		ID:        uuid.NewString(),
		Operation: operation,
		Command:   command,
		ExitCode:  exitCode,
		Output:    output,
		Kind:      Classify(exitCode, output),
		Timestamp: time.Now(),
	}
}

// Error renders the event as an error message suitable for wrapping.
func (e Event) Error() string {
	return fmt.Sprintf("%s: %s failed (exit %d, kind %s)", e.Operation, e.Command, e.ExitCode, e.Kind)
}
