package domain

import "encoding/json"

// Inbound message types on the notification channel.
const (
	MsgConnectionEstablished = "connection_established"
	MsgPong                  = "pong"
	MsgNewOrder              = "new_order"
	MsgOrderUpdated          = "order_updated"
	MsgOrderStatusChanged    = "order_status_changed"
	MsgOrderBumped           = "order_bumped"
	MsgPriorityChanged       = "priority_changed"
	MsgOrdersList            = "orders_list"
	MsgOrderReady            = "order_ready"
	MsgTableAssigned         = "table_assigned"
	MsgNotification          = "notification"
	MsgError                 = "error"
)

// Outbound commands on the notification channel.
const (
	CmdPing           = "ping"
	CmdRequestOrders  = "request_orders"
	CmdBump           = "bump"
	CmdRecall         = "recall"
	CmdStartPreparing = "start_preparing"
	CmdSetPriority    = "set_priority"
)

// Message is the envelope for everything crossing the notification channel.
// Payload carries the type-specific fields untouched.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"-"`
}

// Command is an outbound kitchen-display instruction.
type Command struct {
	Command  string `json:"command"`
	OrderID  string `json:"order_id,omitempty"`
	Priority string `json:"priority,omitempty"`
}

// MarshalJSON inlines the payload next to the type tag.
func (m Message) MarshalJSON() ([]byte, error) {
	if len(m.Payload) == 0 {
		return json.Marshal(struct {
			Type string `json:"type"`
		}{m.Type})
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(m.Payload, &fields); err != nil {
		return nil, err
	}
	raw, err := json.Marshal(m.Type)
	if err != nil {
		return nil, err
	}
	fields["type"] = raw
	return json.Marshal(fields)
}

// UnmarshalJSON splits the type tag from the rest of the envelope.
func (m *Message) UnmarshalJSON(data []byte) error {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}
	m.Type = head.Type
	m.Payload = append(m.Payload[:0], data...)
	return nil
}
