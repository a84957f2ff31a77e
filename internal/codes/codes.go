// Package codes defines the failure kinds reported by the compile pipeline
// and the diagnostic value that carries them to the caller.
package codes

import (
	"errors"
	"fmt"
)

// Kind classifies a pipeline failure
type Kind string

const (
	InvalidRequest           Kind = "InvalidRequest"
	UnresolvedDependency     Kind = "UnresolvedDependency"
	CompileError             Kind = "CompileError"
	SourceMapExtractionError Kind = "SourceMapExtractionError"
	Timeout                  Kind = "Timeout"
	CacheStoreError          Kind = "CacheStoreError"
)

// descriptions maps each kind to a short human readable description
var descriptions = map[Kind]string{
	InvalidRequest:           "Malformed or empty compile request",
	UnresolvedDependency:     "A required module could not be resolved",
	CompileError:             "A source module failed to parse",
	SourceMapExtractionError: "The source map could not be extracted",
	Timeout:                  "The bundle did not finish before the deadline",
	CacheStoreError:          "The build cache could not be read or written",
}

// exitCodes maps kinds to process exit codes used by the CLI
var exitCodes = map[Kind]int{
	InvalidRequest:           2,
	UnresolvedDependency:     3,
	CompileError:             4,
	SourceMapExtractionError: 5,
	Timeout:                  6,
	CacheStoreError:          7,
}

// Diagnostic is the structured failure surfaced to the host build system
type Diagnostic struct {
	Kind     Kind   `json:"kind"`
	FilePath string `json:"filePath,omitempty"`
	Message  string `json:"message"`
	LineHint int    `json:"lineHint,omitempty"`

	// Name is the unresolved module specifier for UnresolvedDependency
	Name string `json:"name,omitempty"`

	err error
}

func (d *Diagnostic) Error() string {
	switch {
	case d.FilePath != "" && d.LineHint > 0:
		return fmt.Sprintf("%s: %s:%d: %s", d.Kind, d.FilePath, d.LineHint, d.Message)
	case d.FilePath != "":
		return fmt.Sprintf("%s: %s: %s", d.Kind, d.FilePath, d.Message)
	default:
		return fmt.Sprintf("%s: %s", d.Kind, d.Message)
	}
}

func (d *Diagnostic) Unwrap() error {
	return d.err
}

// New creates a diagnostic without a file location
func New(kind Kind, format string, args ...any) *Diagnostic {
	return &Diagnostic{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a diagnostic that wraps an underlying error
func Wrap(kind Kind, err error, format string, args ...any) *Diagnostic {
	msg := fmt.Sprintf(format, args...)
	if err != nil {
		msg = fmt.Sprintf("%s: %v", msg, err)
	}

	return &Diagnostic{Kind: kind, Message: msg, err: err}
}

// Unresolved reports a require target that could not be found
func Unresolved(name, requestingFile string) *Diagnostic {
	return &Diagnostic{
		Kind:     UnresolvedDependency,
		Name:     name,
		FilePath: requestingFile,
		Message:  fmt.Sprintf("cannot resolve %q", name),
	}
}

// Compile reports a parse failure in a source module
func Compile(filePath, message string, line int) *Diagnostic {
	return &Diagnostic{
		Kind:     CompileError,
		FilePath: filePath,
		Message:  message,
		LineHint: line,
	}
}

// As extracts a diagnostic from an error chain
func As(err error) (*Diagnostic, bool) {
	var d *Diagnostic
	if errors.As(err, &d) {
		return d, true
	}

	return nil, false
}

// KindOf returns the kind of the first diagnostic in the chain, or "" if none
func KindOf(err error) Kind {
	if d, ok := As(err); ok {
		return d.Kind
	}

	return ""
}

// IsRecoverable returns true for kinds that may be downgraded to warnings
func IsRecoverable(kind Kind) bool {
	return kind == SourceMapExtractionError || kind == CacheStoreError
}

// GetDescription returns the description for a kind, or a generic message if unknown
func GetDescription(kind Kind) string {
	if msg, ok := descriptions[kind]; ok {
		return msg
	}

	return "Unknown error"
}

// ExitCode returns the CLI exit code for an error
func ExitCode(err error) int {
	if err == nil {
		return 0
	}

	if code, ok := exitCodes[KindOf(err)]; ok {
		return code
	}

	return 1
}
