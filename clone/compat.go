package clone

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
)

// Decision is the outcome of the compatibility gate.
type Decision int

const (
	Proceed Decision = iota
	Abort
)

func (d Decision) String() string {
	if d == Abort {
		return "abort"
	}
	return "proceed"
}

// Check decides whether source may be cloned onto destination.
//
// A framework mismatch or a frozen environment is refused outright. A runtime
// version mismatch is a soft risk: the operator is warned and asked to confirm,
// and declining returns Abort with no error. The hard rules are evaluated first
// so the operator is never asked to confirm a clone that would then be refused.
func Check(ctx context.Context, source, destination EnvironmentDescriptor, confirmer Confirmer, logger *log.Logger) (Decision, error) {
	if source.Framework != destination.Framework {
		return Abort, &IncompatibleFrameworkError{Source: source, Destination: destination}
	}
	for _, env := range []EnvironmentDescriptor{source, destination} {
		if env.Frozen {
			return Abort, &FrozenEnvironmentError{Environment: env}
		}
	}

	if source.RuntimeVersion == destination.RuntimeVersion {
		return Proceed, nil
	}

	logger.Warn(fmt.Sprintf(
		"%s runs version %s but %s runs version %s",
		source, source.RuntimeVersion, destination, destination.RuntimeVersion,
	))
	ok, err := confirmer.Confirm(ctx, "Runtime versions differ. Continue with the clone?")
	if err != nil {
		return Abort, fmt.Errorf("confirmation failed: %w", err)
	}
	if !ok {
		return Abort, nil
	}
	return Proceed, nil
}
