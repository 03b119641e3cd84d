package session

import "fmt"

// NotFoundError reports a folder holding no session files for the selected
// format.
type NotFoundError struct {
	Folder string
	Format Format
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no %s session files found in %s", e.Format, e.Folder)
}

// FormatError reports an unreadable or internally inconsistent session file.
type FormatError struct {
	Path   string
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Reason)
}

func formatErrf(path, format string, args ...any) *FormatError {
	return &FormatError{Path: path, Reason: fmt.Sprintf(format, args...)}
}
