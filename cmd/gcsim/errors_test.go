package main

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestScenarioError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *ScenarioError
		expected string
	}{
		{
			name:     "full position",
			err:      &ScenarioError{File: "a.yaml", Line: 4, Column: 9, Message: "unknown type \"x\""},
			expected: "a.yaml:4:9: unknown type \"x\"",
		},
		{
			name:     "line only",
			err:      &ScenarioError{File: "a.yaml", Line: 4, Message: "bad"},
			expected: "a.yaml:4: bad",
		},
		{
			name:     "no position with suggestion",
			err:      &ScenarioError{File: "a.yaml", Message: "empty", Suggestion: "add steps"},
			expected: "a.yaml: empty\n\nSuggestion: add steps",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestFromYAML_ExtractsLine(t *testing.T) {
	var s Scenario
	err := yaml.Unmarshal([]byte("version: v1.0.0\ntypes: 7\n"), &s)
	require.Error(t, err)

	se := fromYAML("s.yaml", err)
	assert.Equal(t, 2, se.Line)
	assert.NotContains(t, se.Message, "line 2")
	assert.NotEmpty(t, se.Suggestion)

	syntax := fromYAML("s.yaml", errors.New("yaml: line 3: did not find expected key"))
	assert.Equal(t, 3, syntax.Line)
	assert.Equal(t, "did not find expected key", syntax.Message)
	assert.Empty(t, syntax.Suggestion)
}
