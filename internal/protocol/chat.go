package protocol

import "encoding/json"

// Chat is a JSON text component as carried by chat and disconnect packets.
type Chat struct {
	Text      string `json:"text"`
	Color     string `json:"color,omitempty"`
	Bold      bool   `json:"bold,omitempty"`
	Italic    bool   `json:"italic,omitempty"`
	Translate string `json:"translate,omitempty"`
	With      []Chat `json:"with,omitempty"`
	Extra     []Chat `json:"extra,omitempty"`
}

// Text returns a plain text component.
func Text(s string) Chat {
	return Chat{Text: s}
}

// JSON renders the component. Marshalling a Chat cannot fail.
func (c Chat) JSON() string {
	data, _ := json.Marshal(c)
	return string(data)
}

// PlainText flattens the component and its children into plain text.
func (c Chat) PlainText() string {
	s := c.Text
	if s == "" && c.Translate != "" {
		s = c.Translate
	}
	for _, e := range c.Extra {
		s += e.PlainText()
	}
	return s
}

// ParseChat decodes a JSON component. A bare JSON string is accepted as a
// plain text component.
func ParseChat(raw string) (Chat, error) {
	var c Chat
	if err := json.Unmarshal([]byte(raw), &c); err == nil {
		return c, nil
	}
	var s string
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return Chat{}, Violation("invalid chat component: %v", err)
	}
	return Text(s), nil
}
