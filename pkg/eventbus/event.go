package eventbus

import "strings"

// InternalNamespace prefixes server lifecycle events. Events in this
// namespace are never forwarded to clients or across modules.
const InternalNamespace = "internal"

// Server lifecycle event names
const (
	EventClientConnected     = InternalNamespace + ".clientConnected"
	EventClientAuthenticated = InternalNamespace + ".clientAuthenticated"
	EventClientDisconnected  = InternalNamespace + ".clientDisconnected"
	EventBeforeRun           = InternalNamespace + ".beforeRun"
)

// Event is a named payload travelling over a Bus
type Event struct {
	// Name is the fully qualified event name, e.g. "scoreboard.goal"
	Name string

	// Payload is an arbitrary JSON-like value
	Payload any
}

// Namespace returns the part of name before the first dot, or "" when the
// name has no namespace.
func (e Event) Namespace() string {
	return Namespace(e.Name)
}

// Join builds "<namespace>.<name>"
func Join(namespace, name string) string {
	if namespace == "" {
		return name
	}
	return namespace + "." + name
}

// Namespace returns the part of name before the first dot
func Namespace(name string) string {
	ns, _, found := strings.Cut(name, ".")
	if !found {
		return ""
	}
	return ns
}

// IsInternal reports whether name belongs to the internal namespace
func IsInternal(name string) bool {
	return strings.HasPrefix(name, InternalNamespace+".")
}
