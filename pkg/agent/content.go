package agent

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// CacheControl marks a prompt segment as eligible for provider-side result
// caching.
type CacheControl struct {
	Type string `json:"type"`
}

// Ephemeral returns the only cache marker providers currently accept.
func Ephemeral() *CacheControl {
	return &CacheControl{Type: "ephemeral"}
}

// Part is one structured content segment.
type Part struct {
	Type         string          `json:"type"`
	Text         string          `json:"text,omitempty"`
	CacheControl *CacheControl   `json:"cache_control,omitempty"`
	Data         json.RawMessage `json:"data,omitempty"`
}

// Content is either plain text or an ordered list of parts. The zero value
// is empty plain text.
type Content struct {
	text       string
	parts      []Part
	structured bool
}

// NewTextContent wraps plain text.
func NewTextContent(s string) Content {
	return Content{text: s}
}

// NewPartsContent wraps structured segments.
func NewPartsContent(parts ...Part) Content {
	cp := make([]Part, len(parts))
	copy(cp, parts)
	return Content{parts: cp, structured: true}
}

// isStructured reports whether the content is a list of parts.
func (c Content) isStructured() bool {
	return c.structured
}

// Parts returns a copy of the segments. Plain text is returned as a single
// text part, or nil when empty.
func (c Content) Parts() []Part {
	if !c.isStructured() {
		if c.text == "" {
			return nil
		}
		return []Part{{Type: "text", Text: c.text}}
	}
	cp := make([]Part, len(c.parts))
	copy(cp, c.parts)
	return cp
}

// String flattens the content: plain text as-is, structured segments
// contribute their text field and are otherwise ignored.
func (c Content) String() string {
	if !c.isStructured() {
		return c.text
	}
	var sb strings.Builder
	for _, p := range c.parts {
		sb.WriteString(p.Text)
	}
	return sb.String()
}

// IsEmpty reports whether the content carries no text.
func (c Content) IsEmpty() bool {
	return c.String() == ""
}

// CacheMarked reports whether any segment carries a cache marker.
func (c Content) CacheMarked() bool {
	for _, p := range c.parts {
		if p.CacheControl != nil {
			return true
		}
	}
	return false
}

func (c Content) clone() Content {
	if !c.isStructured() {
		return c
	}
	return NewPartsContent(c.parts...)
}

// MarshalJSON writes plain text as a JSON string and parts as an array.
func (c Content) MarshalJSON() ([]byte, error) {
	if !c.isStructured() {
		return json.Marshal(c.text)
	}
	if c.parts == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(c.parts)
}

// UnmarshalJSON accepts a string, an array of parts, or null.
func (c *Content) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*c = Content{}
		return nil
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = NewTextContent(s)
		return nil
	case data[0] == '[':
		var parts []Part
		if err := json.Unmarshal(data, &parts); err != nil {
			return err
		}
		*c = Content{parts: parts, structured: true}
		return nil
	default:
		return fmt.Errorf("content must be a string or an array of parts")
	}
}
