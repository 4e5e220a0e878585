package topicmgr

import (
	"fmt"
	"sync"
)

// Manager provides the main API for the topic catalog
type Manager struct {
	registry  *Registry
	validator *Validator
}

// NewManager creates a new topic manager with registry and validator
func NewManager() *Manager {
	return &Manager{
		registry:  NewRegistry(),
		validator: NewValidator(),
	}
}

// DefineProtocol creates a typed topic for broker protocol names
func DefineProtocol(config TopicConfig) *TypedTopic {
	config.Scope = ScopeProtocol
	config.Module = ""
	return newTopic(config)
}

// DefineModule creates a typed topic owned by an application package
func DefineModule(config TopicConfig) *TypedTopic {
	config.Scope = ScopeModule
	return newTopic(config)
}

func newTopic(config TopicConfig) *TypedTopic {
	example := config.Example
	if example == "" {
		example = config.Pattern
	}
	return &TypedTopic{
		name:        config.Name,
		module:      config.Module,
		kind:        config.Kind,
		description: config.Description,
		pattern:     config.Pattern,
		example:     example,
		scope:       config.Scope,
	}
}

// Register validates and adds a topic to the catalog
func (m *Manager) Register(topic Topic) error {
	if err := m.validator.ValidateDefinition(topic); err != nil {
		name := ""
		if topic != nil {
			name = topic.Name()
		}
		return &TopicError{
			Type:    ErrorValidationFailed,
			Topic:   name,
			Message: "topic validation failed",
			Cause:   err,
		}
	}
	return m.registry.Register(topic)
}

// RegisterAll registers each topic, stopping at the first failure.
// Topics that are already registered are skipped.
func (m *Manager) RegisterAll(topics ...Topic) error {
	for _, t := range topics {
		if _, ok := m.registry.Get(t.Name()); ok {
			continue
		}
		if err := m.Register(t); err != nil {
			return err
		}
	}
	return nil
}

// MustRegister registers a topic and panics on error
func (m *Manager) MustRegister(topic Topic) {
	if err := m.Register(topic); err != nil {
		panic(fmt.Sprintf("failed to register topic %s: %v", topic.Name(), err))
	}
}

// Get retrieves a topic by name
func (m *Manager) Get(name string) (Topic, bool) {
	return m.registry.Get(name)
}

// List returns all registered topics
func (m *Manager) List() []Topic {
	return m.registry.List()
}

// ListByModule returns topics owned by a package
func (m *Manager) ListByModule(module string) []Topic {
	return m.registry.ListByModule(module)
}

// ListByKind returns channel families or events
func (m *Manager) ListByKind(kind Kind) []Topic {
	return m.registry.ListByKind(kind)
}

// Count returns the number of registered topics
func (m *Manager) Count() int {
	return m.registry.Count()
}

// Validator exposes the runtime name checks
func (m *Manager) Validator() *Validator {
	return m.validator
}

var (
	defaultManager *Manager
	defaultOnce    sync.Once
)

// Default returns the process-wide catalog
func Default() *Manager {
	defaultOnce.Do(func() {
		defaultManager = NewManager()
	})
	return defaultManager
}
