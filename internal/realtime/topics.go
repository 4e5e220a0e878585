package realtime

import "github.com/nfrund/fellowship/internal/topicmgr"

var (
	// ChatChannel is the presence channel carrying one conversation.
	ChatChannel = topicmgr.DefineModule(topicmgr.TopicConfig{
		Name:        "chat.channel",
		Module:      "chat",
		Kind:        topicmgr.KindChannel,
		Description: "Presence channel carrying new messages and typing events for one conversation",
		Pattern:     "presence-chat-{channel_id}",
		Example:     "presence-chat-12",
	})

	// MemberChannel is the private channel notifying one member about any conversation.
	MemberChannel = topicmgr.DefineModule(topicmgr.TopicConfig{
		Name:        "notify.member",
		Module:      "notify",
		Kind:        topicmgr.KindChannel,
		Description: "Private channel telling a member that one of their conversations changed",
		Pattern:     "private-member-{member_id}",
		Example:     "private-member-42",
	})

	NewMessage = topicmgr.DefineModule(topicmgr.TopicConfig{
		Name:        "chat.new_message",
		Module:      "chat",
		Kind:        topicmgr.KindEvent,
		Description: "Server event carrying a persisted message",
		Pattern:     "new-message",
		Example:     `{"id":"81","channel_id":"12","sender_id":"7","sender_name":"Ruth","body":"See you Sunday","created_at":"2024-03-01 10:00:00"}`,
	})

	Typing = topicmgr.DefineModule(topicmgr.TopicConfig{
		Name:        "chat.typing",
		Module:      "chat",
		Kind:        topicmgr.KindEvent,
		Description: "Client event sent while a member is typing",
		Pattern:     "client-typing",
		Example:     `{"user_id":"7","user_name":"Ruth"}`,
	})
)

// Event names bound by consumers.
const (
	EventNewMessage = "new-message"
	EventTyping     = "client-typing"
)

// Topics lists the catalog entries this package defines.
func Topics() []topicmgr.Topic {
	return []topicmgr.Topic{ChatChannel, MemberChannel, NewMessage, Typing}
}

// ChannelTopic is the topic name of a conversation. It is empty for an empty id.
func ChannelTopic(channelID string) string {
	name, err := ChatChannel.Format(map[string]string{"channel_id": channelID})
	if err != nil {
		return ""
	}
	return name
}

// MemberTopic is the topic name of a member's notification channel.
func MemberTopic(memberID string) string {
	name, err := MemberChannel.Format(map[string]string{"member_id": memberID})
	if err != nil {
		return ""
	}
	return name
}
