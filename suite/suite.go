// Package suite runs YAML-scripted tool invocations against an MCP server
// and scores each call against its expectations.
package suite

import (
	"fmt"
	"time"
)

// Document is one suite file: the server to drive and the calls to make.
type Document struct {
	Server  ServerRef `yaml:"server"`
	Isolate bool      `yaml:"isolate,omitempty"`
	Timeout *Duration `yaml:"timeout,omitempty"`
	Calls   []Call    `yaml:"calls"`
}

// ServerRef selects the server under test: a registry name, or an inline
// command line. Exactly one of Name and Command must be set.
type ServerRef struct {
	Name    string   `yaml:"name,omitempty"`
	Command string   `yaml:"command,omitempty"`
	Args    []string `yaml:"args,omitempty"`
	Cwd     string   `yaml:"cwd,omitempty"`
}

// Label names the server for reports and logs.
func (s ServerRef) Label() string {
	if s.Name != "" {
		return s.Name
	}
	return s.Command
}

// Call is one tool invocation and what to expect back. With no
// expectations the call passes as long as the tool answers successfully.
type Call struct {
	Tool string         `yaml:"tool"`
	Args map[string]any `yaml:"args,omitempty"`
	// WantText passes when the result's text content contains it.
	WantText string `yaml:"want_text,omitempty"`
	// WantError passes when the server answers with this error code.
	WantError int `yaml:"want_error,omitempty"`
}

// Duration is a wrapper around time.Duration that implements YAML
// unmarshaling from human-readable strings like "30s", "2m".
type Duration struct {
	time.Duration
}

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalYAML implements yaml.Marshaler for Duration.
func (d Duration) MarshalYAML() (any, error) {
	return d.Duration.String(), nil
}

// ValidationError describes a single problem with a suite document.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks a Document and returns all problems found.
func Validate(doc *Document) []ValidationError {
	var errs []ValidationError

	if doc.Server.Name == "" && doc.Server.Command == "" {
		errs = append(errs, ValidationError{
			Field:   "server",
			Message: "name or command is required",
		})
	}
	if doc.Server.Name != "" && doc.Server.Command != "" {
		errs = append(errs, ValidationError{
			Field:   "server",
			Message: "name and command are mutually exclusive",
		})
	}

	if len(doc.Calls) == 0 {
		errs = append(errs, ValidationError{
			Field:   "calls",
			Message: "at least one call is required",
		})
	}

	for i, call := range doc.Calls {
		prefix := fmt.Sprintf("calls[%d]", i)
		if call.Tool == "" {
			errs = append(errs, ValidationError{
				Field:   prefix + ".tool",
				Message: "tool name is required",
			})
		}
		if call.WantText != "" && call.WantError != 0 {
			errs = append(errs, ValidationError{
				Field:   prefix,
				Message: "want_text and want_error are mutually exclusive",
			})
		}
	}

	return errs
}
