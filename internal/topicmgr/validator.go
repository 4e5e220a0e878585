package topicmgr

import (
	"fmt"
	"regexp"
	"strings"
)

// MaxChannelNameLength is the broker's limit on channel names.
const MaxChannelNameLength = 164

// ClientEventPrefix is required on every event a client triggers itself.
const ClientEventPrefix = "client-"

// Private and presence channels need a signature from the auth endpoint.
const (
	PrivatePrefix  = "private-"
	PresencePrefix = "presence-"
)

// Validator checks topic definitions and the runtime names built from them.
type Validator struct {
	// namePattern defines valid catalog identifiers (module.thing)
	namePattern *regexp.Regexp
	// channelPattern is the broker's channel name charset
	channelPattern *regexp.Regexp
	// eventPattern covers protocol, server and client event names
	eventPattern *regexp.Regexp
}

// NewValidator creates a new topic validator
func NewValidator() *Validator {
	return &Validator{
		namePattern:    regexp.MustCompile(`^[a-z][a-z0-9_]*(\.[a-z][a-z0-9_]*)*$`),
		channelPattern: regexp.MustCompile(`^[A-Za-z0-9_\-=@,.;]+$`),
		eventPattern:   regexp.MustCompile(`^[a-z][a-z0-9_]*([:\-][a-z0-9_]+)*$`),
	}
}

// ValidateDefinition validates a topic definition
func (v *Validator) ValidateDefinition(topic Topic) error {
	if topic == nil {
		return fmt.Errorf("topic cannot be nil")
	}

	if err := v.ValidateName(topic.Name()); err != nil {
		return fmt.Errorf("invalid topic name: %w", err)
	}

	if strings.TrimSpace(topic.Description()) == "" {
		return fmt.Errorf("topic description cannot be empty")
	}

	switch topic.Scope() {
	case ScopeProtocol:
		if topic.Module() != "" {
			return fmt.Errorf("protocol topics should not have a module")
		}
	case ScopeModule:
		if strings.TrimSpace(topic.Module()) == "" {
			return fmt.Errorf("module topics must specify a module")
		}
	default:
		return fmt.Errorf("invalid topic scope: %s", topic.Scope())
	}

	switch topic.Kind() {
	case KindEvent:
		if err := v.ValidateEvent(topic.Pattern()); err != nil {
			return fmt.Errorf("invalid event pattern: %w", err)
		}
	case KindChannel:
		// Check the pattern with every placeholder filled in.
		sample := placeholder.ReplaceAllString(topic.Pattern(), "x")
		if err := v.ValidateChannel(sample); err != nil {
			return fmt.Errorf("invalid channel pattern: %w", err)
		}
	default:
		return fmt.Errorf("invalid topic kind: %q", topic.Kind())
	}

	return nil
}

// ValidateName checks a catalog identifier
func (v *Validator) ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("name cannot be empty")
	}
	if len(name) > 100 {
		return fmt.Errorf("name too long (max 100 characters)")
	}
	if !v.namePattern.MatchString(name) {
		return fmt.Errorf("name must follow pattern: module.thing (lowercase, alphanumeric, dots only)")
	}
	return nil
}

// ValidateChannel checks a runtime channel name against the broker's rules
func (v *Validator) ValidateChannel(name string) error {
	if name == "" {
		return fmt.Errorf("channel name cannot be empty")
	}
	if len(name) > MaxChannelNameLength {
		return fmt.Errorf("channel name too long (max %d characters)", MaxChannelNameLength)
	}
	if !v.channelPattern.MatchString(name) {
		return fmt.Errorf("channel name %q contains characters outside [A-Za-z0-9_-=@,.;]", name)
	}
	return nil
}

// ValidateEvent checks an event name
func (v *Validator) ValidateEvent(name string) error {
	if name == "" {
		return fmt.Errorf("event name cannot be empty")
	}
	if !v.eventPattern.MatchString(name) {
		return fmt.Errorf("event name %q is not a valid event name", name)
	}
	return nil
}

// ValidateClientEvent checks an event a client is about to trigger
func (v *Validator) ValidateClientEvent(name string) error {
	if err := v.ValidateEvent(name); err != nil {
		return err
	}
	if !strings.HasPrefix(name, ClientEventPrefix) {
		return fmt.Errorf("client events must start with %q", ClientEventPrefix)
	}
	return nil
}

// RequiresAuth reports whether subscribing to a channel needs a signature.
func RequiresAuth(channel string) bool {
	return strings.HasPrefix(channel, PrivatePrefix) || strings.HasPrefix(channel, PresencePrefix)
}

// IsPresence reports whether a channel carries member data.
func IsPresence(channel string) bool {
	return strings.HasPrefix(channel, PresencePrefix)
}
