package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/goccy/go-json"

	"github.com/cloudydaiyz/stringplay-core/internal/engine"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Sync failure (delegate error, quota refusal, lock contention, etc.)
	ExitCommandError = 2 // Command error (bad config, unreadable seed file, unknown troupe, etc.)
)

// CLI error codes for failures that carry no engine code.
const (
	CodeFailure      = "E001"
	CodeCommandError = "E002"
)

// ExitError represents an error with a specific exit code.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure (1) if the error is not an ExitError.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// OutputFormatter writes command results and failures as JSON or text.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // verbose lines; defaults to Writer
	Verbose   bool
}

// CLIResponse is the JSON envelope of every command.
type CLIResponse struct {
	Status string      `json:"status"` // "ok" or "error"
	Data   interface{} `json:"data,omitempty"`
	Error  *CLIError   `json:"error,omitempty"`
}

// CLIError describes a failed command. Code is the engine code when the
// failure came from a sync, otherwise CodeFailure or CodeCommandError.
type CLIError struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	TroupeID string `json:"troupe_id,omitempty"`
	Phase    string `json:"phase,omitempty"`
}

// texter is implemented by payloads with a dedicated text rendering.
type texter interface {
	Text() string
}

// NewCLIError classifies err.
func NewCLIError(err error) *CLIError {
	ce := &CLIError{Code: CodeFailure, Message: err.Error()}
	if GetExitCode(err) == ExitCommandError {
		ce.Code = CodeCommandError
	}
	var se *engine.SyncError
	if errors.As(err, &se) {
		ce.Code = string(se.Code)
		ce.TroupeID = se.TroupeID
		ce.Phase = string(se.Phase)
	}
	return ce
}

// Success outputs a successful result in the configured format.
func (f *OutputFormatter) Success(data interface{}) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{Status: "ok", Data: data})
	}
	if t, ok := data.(texter); ok {
		_, err := fmt.Fprint(f.Writer, t.Text())
		return err
	}
	_, err := fmt.Fprintln(f.Writer, data)
	return err
}

// Fail outputs err in the configured format.
func (f *OutputFormatter) Fail(err error) error {
	ce := NewCLIError(err)
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{Status: "error", Error: ce})
	}
	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", ce.Code, ce.Message)
	if f.Verbose && ce.TroupeID != "" {
		fmt.Fprintf(f.Writer, "troupe %s stopped while %s\n", ce.TroupeID, ce.Phase)
	}
	return nil
}

// reportList is the sync command's payload.
type reportList struct {
	Reports []*engine.Report `json:"reports"`
}

func (r reportList) Text() string {
	var b strings.Builder
	for _, rep := range r.Reports {
		fmt.Fprintf(&b, "%s: %s", rep.TroupeID, rep.Status)
		if rep.Succeeded() {
			s := rep.Stats
			fmt.Fprintf(&b, " (events +%d ~%d, members +%d -%d dropped %d, pages %d written %d deleted)",
				s.NewEvents, s.UpdatedEvents, s.NewMembers, s.DeletedMembers, s.DroppedMembers, s.BucketUpserts, s.BucketDeletes)
		}
		if rep.Err != nil {
			fmt.Fprintf(&b, ": [%s] %s", rep.Err.Code, rep.Error)
		}
		if rep.PublishErr != nil {
			fmt.Fprintf(&b, " [%s: %s]", rep.PublishErr.Code, rep.PublishError)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// Reports outputs sync reports. In verbose mode each report's run id, final
// phase and duration follow on ErrWriter.
func (f *OutputFormatter) Reports(reports []*engine.Report) error {
	if err := f.Success(reportList{Reports: reports}); err != nil {
		return err
	}
	for _, r := range reports {
		f.verbosef("%s: run %s reached %s in %s", r.TroupeID, r.RunID, r.Phase, r.Duration)
		if r.PublishError != "" {
			f.verbosef("%s: publish failed: %s", r.TroupeID, r.PublishError)
		}
	}
	return nil
}

func (f *OutputFormatter) verbosef(format string, args ...interface{}) {
	if !f.Verbose {
		return
	}
	w := f.ErrWriter
	if w == nil {
		w = f.Writer
	}
	fmt.Fprintf(w, format+"\n", args...)
}
