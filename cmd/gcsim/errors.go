package main

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"

	"gopkg.in/yaml.v3"
)

// ScenarioError is a problem in a scenario file with its position and an
// optional hint.
//
// Example output:
//
//	churn.yaml:12:7: unknown type "nod"
//
//	Suggestion: declare the type under types: or use one of [node leaf]
//
// Thread Safety: Immutable after creation, safe for concurrent use.
type ScenarioError struct {
	File       string // Scenario file path
	Line       int    // Line number (1-indexed), 0 when unknown
	Column     int    // Column number (1-indexed), 0 when unknown
	Message    string // Error message
	Suggestion string // Optional suggestion for fixing (empty if none)
}

// Error formats the error as file:line:column: message, followed by the
// suggestion on its own paragraph.
func (e *ScenarioError) Error() string {
	var result string
	switch {
	case e.Line == 0:
		result = fmt.Sprintf("%s: %s", e.File, e.Message)
	case e.Column == 0:
		result = fmt.Sprintf("%s:%d: %s", e.File, e.Line, e.Message)
	default:
		result = fmt.Sprintf("%s:%d:%d: %s", e.File, e.Line, e.Column, e.Message)
	}
	if e.Suggestion != "" {
		result += fmt.Sprintf("\n\nSuggestion: %s", e.Suggestion)
	}
	return result
}

// errorAt creates an error positioned at p.
func errorAt(file string, p pos, msg, suggestion string) *ScenarioError {
	return &ScenarioError{File: file, Line: p.line, Column: p.column, Message: msg, Suggestion: suggestion}
}

var yamlLine = regexp.MustCompile(`^(?:yaml: )?line (\d+): (.*)$`)

// fromYAML converts a decoding error into a ScenarioError, extracting the
// line number yaml.v3 embeds in its messages.
func fromYAML(file string, err error) *ScenarioError {
	msg := err.Error()
	var te *yaml.TypeError
	if errors.As(err, &te) && len(te.Errors) > 0 {
		msg = te.Errors[0]
	}
	se := &ScenarioError{File: file, Message: msg}
	if m := yamlLine.FindStringSubmatch(msg); m != nil {
		se.Line, _ = strconv.Atoi(m[1])
		se.Message = m[2]
	}
	if te != nil {
		se.Suggestion = "check the field types against the scenario format (gcsim help)"
	}
	return se
}
