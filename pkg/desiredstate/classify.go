// Package desiredstate decides whether a playbook artifact carries a
// free-text desired state or should be handed to the script runner.
package desiredstate

import (
	"fmt"
	"os"
	"strings"
)

// Kind is the classification of a playbook artifact.
type Kind string

const (
	// KindDesiredState marks an artifact with extractable desired-state text.
	KindDesiredState Kind = "desired_state"

	// KindScript marks an artifact that must run through the script runner.
	KindScript Kind = "script"
)

const (
	scriptMarker   = "async def run("
	separator      = "---"
	hostsDirective = "hosts:"
)

// Classification is the outcome of classifying an artifact.
type Classification struct {
	Kind         Kind   `json:"kind"`
	DesiredState string `json:"desired_state,omitempty"`
}

// Classify extracts the desired-state text from content.
// It returns ok=false when the artifact is a script or has no desired state.
//
// Rules, in order:
//   - content containing "async def run(" is a script
//   - content containing "---" yields the trimmed text after the first occurrence
//   - otherwise lines starting with "hosts:" are dropped and the rest is trimmed
func Classify(content string) (string, bool) {
	if strings.Contains(content, scriptMarker) {
		return "", false
	}

	if _, after, found := strings.Cut(content, separator); found {
		after = strings.TrimSpace(after)
		return after, after != ""
	}

	content = strings.ReplaceAll(content, "\r\n", "\n")
	content = strings.ReplaceAll(content, "\r", "\n")

	var kept []string
	for _, line := range strings.Split(content, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), hostsDirective) {
			continue
		}
		kept = append(kept, line)
	}

	text := strings.TrimSpace(strings.Join(kept, "\n"))
	return text, text != ""
}

// ClassifyContent returns the full classification of content.
func ClassifyContent(content string) Classification {
	if text, ok := Classify(content); ok {
		return Classification{Kind: KindDesiredState, DesiredState: text}
	}
	return Classification{Kind: KindScript}
}

// ClassifyFile reads path and classifies its content.
func ClassifyFile(path string) (Classification, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Classification{}, fmt.Errorf("failed to read playbook: %w", err)
	}
	return ClassifyContent(string(data)), nil
}
