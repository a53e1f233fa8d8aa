package models

// Channel names a coarse category of change events a device connection can
// subscribe to. "all" is a convenience shortcut that subscribes to every
// known category.
const (
	ChannelMessages  = "messages"
	ChannelContacts  = "contacts"
	ChannelCalls     = "calls"
	ChannelClipboard = "clipboard"
	ChannelKeys      = "keys"
	ChannelAll       = "all"
)

// KnownChannels is every concrete channel, in stable order.
var KnownChannels = []string{
	ChannelMessages,
	ChannelContacts,
	ChannelCalls,
	ChannelClipboard,
	ChannelKeys,
}

// IsValidChannel reports whether name is a subscribable channel.
func IsValidChannel(name string) bool {
	if name == ChannelAll {
		return true
	}
	for _, c := range KnownChannels {
		if c == name {
			return true
		}
	}
	return false
}

// Change operations.
const (
	OpCreated = "created"
	OpUpdated = "updated"
	OpDeleted = "deleted"
)

// ChangeEvent describes a single accepted mutation to a synced table. It is
// ephemeral: consumed by zero or more live connections, never persisted, and
// delivered best-effort. A disconnected device misses events and reconciles
// with a full pull on reconnect.
type ChangeEvent struct {
	Table     string      `json:"table"`
	Operation string      `json:"operation"`
	UserID    string      `json:"-"` // Routing only, never serialized to clients
	EntityID  string      `json:"entityId"`
	Payload   interface{} `json:"payload,omitempty"`
}

// Channel maps the mutated table to its broadcast channel.
func (e ChangeEvent) Channel() string {
	switch e.Table {
	case "messages":
		return ChannelMessages
	case "contacts":
		return ChannelContacts
	case "calls":
		return ChannelCalls
	case "clipboard":
		return ChannelClipboard
	case "key_exchanges":
		return ChannelKeys
	default:
		return e.Table
	}
}

// Type is the wire frame type clients receive, e.g. "contact_updated".
func (e ChangeEvent) Type() string {
	table := e.Table
	switch table {
	case "messages":
		table = "message"
	case "contacts":
		table = "contact"
	case "calls":
		table = "call"
	case "key_exchanges":
		table = "key_exchange"
	}
	return table + "_" + e.Operation
}
