package global

import "strings"

// DefaultBroadcastTopic is the shared channel every relay process publishes to and subscribes on.
const DefaultBroadcastTopic = "chat_broadcast"

const (
	presencePrefix = "relay:node:"
	// NodeIndexKey is a sorted set of node ids scored by presence expiry.
	NodeIndexKey = "relay:nodes"
)

// PresencePrefix is prepended to a node id to form its presence key.
func PresencePrefix() string { return presencePrefix }

// PresenceKey is where a node publishes its live connection count.
func PresenceKey(nodeID string) string { return presencePrefix + nodeID }

// PresencePattern matches every node's presence key.
func PresencePattern() string { return presencePrefix + "*" }

// NodeFromPresenceKey returns the node id encoded in a presence key.
func NodeFromPresenceKey(key string) string { return strings.TrimPrefix(key, presencePrefix) }
