// Package ghaction speaks the GitHub Actions runner protocol: step outputs
// written to $GITHUB_OUTPUT and workflow commands printed to stdout.
package ghaction

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Output names set after a run.
const (
	OutputCacheHit = "cache-hit"
	OutputCacheKey = "cache-key"
	OutputOutcome  = "outcome"
)

// Reporter emits outputs and log groups. Outside of Actions every method is
// a no-op, so callers never need to check.
type Reporter struct {
	mu         sync.Mutex
	enabled    bool
	outputPath string
	out        io.Writer

	// newDelimiter is replaceable in tests
	newDelimiter func() string
}

// NewReporter creates a Reporter. Workflow commands go to out; outputs are
// appended to outputPath when it is set.
func NewReporter(enabled bool, outputPath string, out io.Writer) *Reporter {
	return &Reporter{
		enabled:    enabled,
		outputPath: outputPath,
		out:        out,
		newDelimiter: func() string {
			return "ghadelimiter_" + uuid.NewString()
		},
	}
}

// FromEnv creates a Reporter from GITHUB_ACTIONS and GITHUB_OUTPUT.
func FromEnv(out io.Writer) *Reporter {
	return NewReporter(os.Getenv("GITHUB_ACTIONS") == "true", os.Getenv("GITHUB_OUTPUT"), out)
}

// Enabled reports whether the process runs inside GitHub Actions.
func (r *Reporter) Enabled() bool {
	return r != nil && r.enabled
}

// SetOutput appends name=value to the output file. Values containing
// newlines use the heredoc form with a random delimiter.
func (r *Reporter) SetOutput(name, value string) error {
	if !r.Enabled() || r.outputPath == "" {
		return nil
	}

	var record string
	if strings.ContainsAny(value, "\r\n") {
		delim := r.newDelimiter()
		if strings.Contains(value, delim) || strings.Contains(name, delim) {
			return fmt.Errorf("output %s contains its delimiter", name)
		}
		record = fmt.Sprintf("%s<<%s\n%s\n%s\n", name, delim, value, delim)
	} else {
		record = name + "=" + value + "\n"
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	f, err := os.OpenFile(r.outputPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open output file: %w", err)
	}
	if _, err := io.WriteString(f, record); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write output %s: %w", name, err)
	}
	return f.Close()
}

// SetOutputs writes every pair in order.
func (r *Reporter) SetOutputs(pairs [][2]string) error {
	for _, p := range pairs {
		if err := r.SetOutput(p[0], p[1]); err != nil {
			return err
		}
	}
	return nil
}

// Group starts a collapsible log group and returns the function that ends it.
func (r *Reporter) Group(title string) func() {
	if !r.Enabled() {
		return func() {}
	}
	r.command("group", title)
	return func() { r.command("endgroup", "") }
}

// Warning prints a warning annotation.
func (r *Reporter) Warning(msg string) {
	if r.Enabled() {
		r.command("warning", msg)
	}
}

// Error prints an error annotation.
func (r *Reporter) Error(msg string) {
	if r.Enabled() {
		r.command("error", msg)
	}
}

func (r *Reporter) command(name, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, _ = fmt.Fprintf(r.out, "::%s::%s\n", name, escapeData(msg))
}

// escapeData encodes the characters that would end a workflow command early.
func escapeData(s string) string {
	s = strings.ReplaceAll(s, "%", "%25")
	s = strings.ReplaceAll(s, "\r", "%0D")
	return strings.ReplaceAll(s, "\n", "%0A")
}
