package domain

// DefaultEventName is the hub event that carries group messages.
const DefaultEventName = "ReceiveDoubt"

type NegotiateResult struct {
	URL         string `json:"url"`
	AccessToken string `json:"accessToken"`
}

type InboundMessage struct {
	SenderID UserID
	Body     string
}

type OutboundMessage struct {
	MeetingID MeetingID
	UserID    UserID
	Body      string
}

const (
	FrameEvent = "event"
	FramePing  = "ping"
	FramePong  = "pong"
	FrameClose = "close"
)

// Frame is the envelope exchanged over the streaming channel.
type Frame struct {
	Type  string   `json:"type"`
	Event string   `json:"event,omitempty"`
	Args  []string `json:"args,omitempty"`
}

func NewEventFrame(event string, sender UserID, body string) Frame {
	return Frame{Type: FrameEvent, Event: event, Args: []string{string(sender), body}}
}

// Message decodes an event frame into an inbound message.
func (f Frame) Message() (InboundMessage, bool) {
	if f.Type != FrameEvent || len(f.Args) != 2 {
		return InboundMessage{}, false
	}
	return InboundMessage{SenderID: UserID(f.Args[0]), Body: f.Args[1]}, true
}
