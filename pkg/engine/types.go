package engine

import (
	"fmt"
	"strings"
)

// EventKind discriminates the native events emitted by the reconciliation engine.
type EventKind string

const (
	// EventKindModuleStart indicates a module is about to execute on a host.
	EventKindModuleStart EventKind = "module_start"

	// EventKindModuleComplete indicates a module finished executing on a host.
	EventKindModuleComplete EventKind = "module_complete"

	// EventKindModuleOutput carries incremental output from a running module.
	EventKindModuleOutput EventKind = "module_output"

	// EventKindLog carries a free-form progress message from the engine itself.
	EventKindLog EventKind = "log"
)

const (
	// DefaultHost is used when a native event does not name its host.
	DefaultHost = "localhost"

	// DefaultModule is used when a native event does not name its module.
	DefaultModule = "unknown"
)

// Event is a single native progress notification from the engine.
// Fields are extracted from a loosely typed record with safe defaults, so a
// malformed event never fails the run.
type Event struct {
	// Kind is the event discriminator. Unknown discriminators are preserved verbatim.
	Kind EventKind `json:"event"`

	// Module is the module identifier (module_start, module_complete).
	Module string `json:"module,omitempty"`

	// Host is the target host identifier, DefaultHost when absent.
	Host string `json:"host,omitempty"`

	// Success reports whether a completed module succeeded.
	Success bool `json:"success"`

	// Changed reports whether a completed module changed the host.
	Changed bool `json:"changed"`

	// Message is human-readable text attached to the event (log lines, errors).
	Message string `json:"message,omitempty"`

	// Result is the module's result payload, if any.
	Result map[string]interface{} `json:"result,omitempty"`

	// Duration is the module's execution time in seconds, if reported.
	Duration float64 `json:"duration,omitempty"`
}

// EventFromMap builds an Event from a loosely structured record.
// Truthiness of flag fields follows the engine's own convention: booleans as-is,
// non-zero numbers and non-empty strings are true.
func EventFromMap(raw map[string]interface{}) Event {
	ev := Event{
		Kind:    EventKind(stringField(raw, "event")),
		Module:  stringField(raw, "module"),
		Host:    stringField(raw, "host"),
		Success: truthy(raw["success"]),
		Changed: truthy(raw["changed"]),
		Message: firstNonEmpty(stringField(raw, "message"), stringField(raw, "msg"), stringField(raw, "output")),
	}

	if ev.Host == "" {
		ev.Host = DefaultHost
	}
	if ev.Module == "" {
		ev.Module = DefaultModule
	}

	if res, ok := raw["result"].(map[string]interface{}); ok {
		ev.Result = res
	}

	switch d := raw["duration"].(type) {
	case float64:
		ev.Duration = d
	case int:
		ev.Duration = float64(d)
	case int64:
		ev.Duration = float64(d)
	}

	return ev
}

// IsModuleStart reports whether the event opens a module execution.
func (e Event) IsModuleStart() bool {
	return e.Kind == EventKindModuleStart
}

// IsModuleComplete reports whether the event closes a module execution.
func (e Event) IsModuleComplete() bool {
	return e.Kind == EventKindModuleComplete
}

// Result is the engine's terminal record for one reconcile call.
type Result struct {
	// Converged reports whether the desired state was reached.
	Converged bool `json:"converged"`

	// Iterations is the number of observe/act rounds the engine performed.
	Iterations int `json:"iterations,omitempty"`

	// Summary is an optional human-readable summary from the engine.
	Summary string `json:"summary,omitempty"`
}

func stringField(raw map[string]interface{}, key string) string {
	switch v := raw[key].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

func truthy(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case float64:
		return t != 0
	case int:
		return t != 0
	case int64:
		return t != 0
	case string:
		return t != ""
	case []interface{}:
		return len(t) > 0
	case map[string]interface{}:
		return len(t) > 0
	default:
		return true
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
