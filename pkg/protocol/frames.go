package protocol

import (
	"encoding/json"

	svcerrors "github.com/ajitpratap0/feathers-client-go/pkg/errors"
)

// FrameType discriminates socket frames.
type FrameType string

const (
	FrameCall    FrameType = "call"
	FrameResult  FrameType = "result"
	FrameWelcome FrameType = "welcome"
	FrameEvent   FrameType = "event"
)

// Service events pushed by the server after a successful mutation.
const (
	EventCreated = "created"
	EventUpdated = "updated"
	EventPatched = "patched"
	EventRemoved = "removed"
)

// EventFor returns the event a mutation emits, or "" for reads.
func EventFor(op Operation) string {
	switch op {
	case OpCreate:
		return EventCreated
	case OpUpdate:
		return EventUpdated
	case OpPatch:
		return EventPatched
	case OpRemove:
		return EventRemoved
	}
	return ""
}

// Frame is one message on the streaming transport.
//
//	call:    {"type":"call","id":1,"method":"get","path":"users","resourceId":"42"}
//	result:  {"type":"result","id":1,"result":{...}} or {"type":"result","id":1,"error":{...}}
//	welcome: {"type":"welcome","sid":"..."}
//	event:   {"type":"event","path":"users","event":"created","data":{...}}
type Frame struct {
	Type       FrameType            `json:"type"`
	ID         uint64               `json:"id,omitempty"`
	Method     Operation            `json:"method,omitempty"`
	Path       string               `json:"path,omitempty"`
	ResourceID string               `json:"resourceId,omitempty"`
	Data       json.RawMessage      `json:"data,omitempty"`
	Query      *Query               `json:"query,omitempty"`
	Result     json.RawMessage      `json:"result,omitempty"`
	Error      *svcerrors.WireError `json:"error,omitempty"`
	SID        string               `json:"sid,omitempty"`
	Event      string               `json:"event,omitempty"`
}

// CallFrame builds the call frame for c with the given correlation id.
func CallFrame(id uint64, c *Call) (*Frame, error) {
	data, err := c.EncodeData()
	if err != nil {
		return nil, err
	}
	f := &Frame{
		Type:       FrameCall,
		ID:         id,
		Method:     c.Method,
		Path:       c.Service,
		ResourceID: c.ID,
		Data:       data,
	}
	if !c.Query.IsZero() {
		q := c.Query
		f.Query = &q
	}
	return f, nil
}

// ToCall converts an incoming call frame back into a Call.
func (f *Frame) ToCall() *Call {
	c := &Call{
		Service: f.Path,
		Method:  f.Method,
		ID:      f.ResourceID,
	}
	if len(f.Data) > 0 {
		c.Data = f.Data
	}
	if f.Query != nil {
		c.Query = *f.Query
	}
	return c
}

// ResultFrame answers call id with either a result or an error.
func ResultFrame(id uint64, result json.RawMessage, err error) *Frame {
	f := &Frame{Type: FrameResult, ID: id}
	if err != nil {
		f.Error = svcerrors.ToWire(err)
		return f
	}
	if len(result) == 0 {
		result = json.RawMessage("null")
	}
	f.Result = result
	return f
}
