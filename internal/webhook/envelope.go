package webhook

// Envelope is the inbound gateway payload.
type Envelope struct {
	Messages []Message `json:"messages"`
	Event    Event     `json:"event"`
}

// Event describes what the gateway is reporting.
type Event struct {
	Type  string `json:"type"`
	Event string `json:"event"`
}

// Message is one chat message inside an envelope.
type Message struct {
	ID       string    `json:"id"`
	From     string    `json:"from"`
	FromMe   bool      `json:"from_me"`
	Type     string    `json:"type"`
	Text     *TextBody `json:"text,omitempty"`
	Audio    *Media    `json:"audio,omitempty"`
	Voice    *Media    `json:"voice,omitempty"`
	Document *Media    `json:"document,omitempty"`
}

// TextBody holds the text of a text message.
type TextBody struct {
	Body string `json:"body"`
}

// Media references a downloadable attachment.
type Media struct {
	ID       string `json:"id"`
	Link     string `json:"link"`
	MimeType string `json:"mime_type"`
	FileName string `json:"file_name"`
	FileSize int64  `json:"file_size"`
}

// EventClass is the dispatcher's classification of an envelope.
type EventClass int

const (
	EventUnrecognized EventClass = iota
	EventMessage
	EventStatus
)

func (c EventClass) String() string {
	switch c {
	case EventMessage:
		return "message"
	case EventStatus:
		return "status"
	default:
		return "unrecognized"
	}
}

// Classify sorts an envelope into message, status or unrecognized.
func Classify(env Envelope) EventClass {
	switch {
	case env.Event.Type == "messages" && env.Event.Event == "post":
		return EventMessage
	case env.Event.Type == "statuses":
		return EventStatus
	default:
		return EventUnrecognized
	}
}

// MessageKind is the routing class of a single message.
type MessageKind string

const (
	KindText        MessageKind = "text"
	KindAudio       MessageKind = "audio"
	KindVoice       MessageKind = "voice"
	KindDocument    MessageKind = "document"
	KindUnsupported MessageKind = "unsupported"
)

// Kind returns the routing class of m.
func (m Message) Kind() MessageKind {
	switch m.Type {
	case "text":
		return KindText
	case "audio":
		return KindAudio
	case "voice":
		return KindVoice
	case "document":
		return KindDocument
	default:
		return KindUnsupported
	}
}

// Body returns the text content, or "" when absent.
func (m Message) Body() string {
	if m.Text == nil {
		return ""
	}
	return m.Text.Body
}

// Attachment returns the media block matching the message type. Voice
// messages fall back to the audio block, which some gateways fill instead.
func (m Message) Attachment() Media {
	var picked *Media
	switch m.Kind() {
	case KindAudio:
		picked = m.Audio
	case KindVoice:
		picked = m.Voice
		if picked == nil || picked.Link == "" {
			if m.Audio != nil {
				picked = m.Audio
			}
		}
	case KindDocument:
		picked = m.Document
	}
	if picked == nil {
		return Media{}
	}
	return *picked
}
