package cli

import "fmt"

// Process exit codes this package's commands promise callers.
const (
	ExitSuccess     = 0
	ExitGeneric     = 1
	ExitUsage       = 2
	ExitUnreachable = 3
	ExitTimeout     = 4
)

// cliError pairs an already-printed failure with the process exit code it
// maps to — Execute inspects the code rather than re-printing err.Error().
type cliError struct {
	code int
	err  error
}

func (e *cliError) Error() string { return e.err.Error() }

func usageErr(format string, args ...interface{}) error {
	return &cliError{code: ExitUsage, err: fmt.Errorf(format, args...)}
}

func unreachableErr(err error) error {
	return &cliError{code: ExitUnreachable, err: err}
}

func timeoutErr(err error) error {
	return &cliError{code: ExitTimeout, err: err}
}

func genericErr(err error) error {
	if err == nil {
		return nil
	}
	if ce, ok := err.(*cliError); ok {
		return ce
	}
	return &cliError{code: ExitGeneric, err: err}
}

// exitCode extracts the process exit code a returned error maps to;
// anything not constructed by this package is a generic failure.
func exitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	if ce, ok := err.(*cliError); ok {
		return ce.code
	}
	return ExitGeneric
}
