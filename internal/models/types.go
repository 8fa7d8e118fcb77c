package models

import "sync"

// Common message type tags. The set is open: applications register their own
// tags and filtering treats unknown tags as opaque equality keys.
const (
	TypeUserMessage   = "USER_MESSAGE"
	TypeAIResponse    = "AI_RESPONSE"
	TypeSystemMessage = "SYSTEM_MESSAGE"
	TypeToolCall      = "TOOL_CALL"
	TypeToolResult    = "TOOL_RESULT"
)

// TypeRegistry tracks declared message type tags. It exists so applications
// can introspect the tags they use; nothing in chatvault rejects a message
// because its tag is unregistered.
type TypeRegistry struct {
	mu   sync.RWMutex
	tags map[string]struct{}
}

// NewTypeRegistry creates a registry pre-populated with the common tags plus
// any extras.
func NewTypeRegistry(extra ...string) *TypeRegistry {
	r := &TypeRegistry{tags: make(map[string]struct{})}
	for _, t := range []string{
		TypeUserMessage, TypeAIResponse, TypeSystemMessage, TypeToolCall, TypeToolResult,
	} {
		r.tags[t] = struct{}{}
	}
	for _, t := range extra {
		r.Register(t)
	}
	return r
}

// Register declares a tag. Registering an already known tag is a no-op.
func (r *TypeRegistry) Register(tag string) {
	if tag == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tags[tag] = struct{}{}
}

// Known reports whether the tag has been declared.
func (r *TypeRegistry) Known(tag string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tags[tag]
	return ok
}

// Tags returns the declared tags in unspecified order.
func (r *TypeRegistry) Tags() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.tags))
	for t := range r.tags {
		out = append(out, t)
	}
	return out
}
