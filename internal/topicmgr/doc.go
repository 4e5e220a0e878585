// Package topicmgr keeps a typed catalog of the realtime names the client
// uses: channel families such as presence-chat-{channel_id} and the events
// bound on them. It removes magic strings from the transport and session code
// and validates runtime channel names against the broker's naming rules.
//
// Protocol names are defined by the transport:
//
//	var Subscribe = topicmgr.DefineProtocol(topicmgr.TopicConfig{
//		Name:        "pusher:subscribe",
//		Kind:        topicmgr.KindEvent,
//		Description: "Client request to join a channel",
//		Pattern:     "pusher:subscribe",
//	})
//
// Module names are defined by the packages that own them:
//
//	var ChatChannel = topicmgr.DefineModule(topicmgr.TopicConfig{
//		Name:        "chat.channel",
//		Module:      "chat",
//		Kind:        topicmgr.KindChannel,
//		Description: "Presence channel carrying one conversation",
//		Pattern:     "presence-chat-{channel_id}",
//		Example:     "presence-chat-12",
//	})
//
//	name, err := ChatChannel.Format(map[string]string{"channel_id": "12"})
package topicmgr
