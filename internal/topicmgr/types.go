package topicmgr

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
)

// Topic is a catalogued realtime name: a channel family or an event.
type Topic interface {
	// Name returns the unique catalog identifier for this topic
	Name() string

	// Module returns the package that owns this topic (empty for protocol names)
	Module() string

	// Kind tells channel families and events apart
	Kind() Kind

	// Description returns human-readable documentation
	Description() string

	// Pattern returns the wire name, with {placeholders} for channel families
	Pattern() string

	// Example returns a usage example
	Example() string

	// Scope returns whether this is a protocol or module topic
	Scope() TopicScope

	// Format fills the pattern's placeholders
	Format(vars map[string]string) (string, error)
}

// TypedTopic is the concrete Topic.
type TypedTopic struct {
	name        string
	module      string
	kind        Kind
	description string
	pattern     string
	example     string
	scope       TopicScope
}

var _ Topic = (*TypedTopic)(nil)

// TopicConfig holds configuration for creating a new topic
type TopicConfig struct {
	Name        string     `json:"name"`        // Unique catalog identifier
	Module      string     `json:"module"`      // Owning package (empty for protocol names)
	Kind        Kind       `json:"kind"`        // Channel family or event
	Scope       TopicScope `json:"scope"`       // Protocol or module scope
	Description string     `json:"description"` // Human-readable description
	Pattern     string     `json:"pattern"`     // Wire name
	Example     string     `json:"example"`     // Usage example
}

// TopicScope defines whether a name belongs to the wire protocol or to a package
type TopicScope string

const (
	ScopeProtocol TopicScope = "protocol" // Broker protocol names (pusher:*, pusher_internal:*)
	ScopeModule   TopicScope = "module"   // Application names (chat, notify)
)

// Kind separates channel families from event names.
type Kind string

const (
	KindChannel Kind = "channel"
	KindEvent   Kind = "event"
)

// RegistryEntry represents a topic entry in the registry with metadata
type RegistryEntry struct {
	Topic        Topic     `json:"topic"`
	RegisteredAt time.Time `json:"registered_at"`
	Module       string    `json:"module"`
}

// TopicError represents structured errors in the topic management system
type TopicError struct {
	Type    ErrorType `json:"type"`
	Topic   string    `json:"topic"`
	Module  string    `json:"module"`
	Message string    `json:"message"`
	Cause   error     `json:"cause,omitempty"`
}

// ErrorType defines the type of topic management error
type ErrorType string

const (
	ErrorTopicNotFound         ErrorType = "topic_not_found"
	ErrorDuplicateRegistration ErrorType = "duplicate_registration"
	ErrorInvalidPattern        ErrorType = "invalid_pattern"
	ErrorValidationFailed      ErrorType = "validation_failed"
	ErrorMissingVariable       ErrorType = "missing_variable"
)

// Error implements the error interface
func (e *TopicError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap returns the underlying error
func (e *TopicError) Unwrap() error {
	return e.Cause
}

func (t *TypedTopic) Name() string        { return t.name }
func (t *TypedTopic) Module() string      { return t.module }
func (t *TypedTopic) Kind() Kind          { return t.kind }
func (t *TypedTopic) Description() string { return t.description }
func (t *TypedTopic) Pattern() string     { return t.pattern }
func (t *TypedTopic) Example() string     { return t.example }
func (t *TypedTopic) Scope() TopicScope   { return t.scope }

// String returns the topic name for easy debugging
func (t *TypedTopic) String() string {
	return t.name
}

var placeholder = regexp.MustCompile(`\{([a-z_]+)\}`)

// Variables lists the placeholders of the pattern in sorted order.
func (t *TypedTopic) Variables() []string {
	var vars []string
	for _, m := range placeholder.FindAllStringSubmatch(t.pattern, -1) {
		vars = append(vars, m[1])
	}
	sort.Strings(vars)
	return vars
}

// Format substitutes every {placeholder} in the pattern. An empty or missing
// value is an error.
func (t *TypedTopic) Format(vars map[string]string) (string, error) {
	var missing []string
	out := placeholder.ReplaceAllStringFunc(t.pattern, func(m string) string {
		key := m[1 : len(m)-1]
		v := strings.TrimSpace(vars[key])
		if v == "" {
			missing = append(missing, key)
			return m
		}
		return v
	})
	if len(missing) > 0 {
		return "", &TopicError{
			Type:    ErrorMissingVariable,
			Topic:   t.name,
			Module:  t.module,
			Message: fmt.Sprintf("missing value for %s", strings.Join(missing, ", ")),
		}
	}
	return out, nil
}
