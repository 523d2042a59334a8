package errors

import (
	"fmt"
	"os"

	"github.com/julianstephens/habitkeep/internal/logger"
)

// Format formats an error message with a consistent "Error: " prefix.
// Validation errors are reported without the operation prefix so the
// user sees only what was wrong with their input.
func Format(err error) string {
	if err == nil {
		return ""
	}
	if e, ok := As(err); ok && e.Kind == KindValidation {
		return fmt.Sprintf("Error: %v", e.Err)
	}
	return fmt.Sprintf("Error: %v", err)
}

// Formatf formats an error message with a consistent "Error: " prefix using a format string
func Formatf(format string, args ...interface{}) string {
	return fmt.Sprintf("Error: "+format, args...)
}

// Fatal logs an error and exits the program with exit code 1
func Fatal(err error) {
	if err != nil {
		logger.Error("Command execution failed", "error", err)
		fmt.Fprintf(os.Stderr, "%s\n", Format(err))
		os.Exit(1)
	}
}

// Fatalf logs and formats an error message, then exits the program with exit code 1
func Fatalf(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	logger.Error("Command execution failed", "error", msg)
	fmt.Fprintf(os.Stderr, "%s\n", Formatf(format, args...))
	os.Exit(1)
}
