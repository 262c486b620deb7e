package models

// EventKind classifies inbound transport events.
type EventKind string

const (
	EventText    EventKind = "text"
	EventCommand EventKind = "command"
	EventContact EventKind = "contact"
	EventImage   EventKind = "image"
	EventAction  EventKind = "action"
	EventOther   EventKind = "other"
)

// Event is a transport-neutral inbound message or button press.
type Event struct {
	Kind          EventKind
	AccountID     int64
	AccountHandle string
	LanguageHint  string
	ChatID        int64
	Text          string
	Command       string
	Args          string
	Payload       string
	ContactPhone  string
	ContactOwner  int64
	ImageRef      string
	CallbackID    string
}

// Key returns the session key the event belongs to.
func (e Event) Key() SessionKey {
	return SessionKey{AccountID: e.AccountID, ChatID: e.ChatID}
}

// ReplyKind selects how a reply is delivered.
type ReplyKind string

const (
	ReplyText     ReplyKind = "text"
	ReplyImage    ReplyKind = "image"
	ReplyDocument ReplyKind = "document"
)

// KeyboardKind selects the reply keyboard shown under the message.
type KeyboardKind string

const (
	KeyboardNone       KeyboardKind = ""
	KeyboardCancel     KeyboardKind = "cancel"
	KeyboardSharePhone KeyboardKind = "share_phone"
	KeyboardRemove     KeyboardKind = "remove"
)

// Button is an inline button. Exactly one of Payload or URL is set; the label
// is either a catalog key or a literal. LabelLanguage overrides the reply
// language for the label lookup.
type Button struct {
	LabelKey      string
	LabelLanguage Language
	Label         string
	Payload       string
	URL           string
}

// Reply is a transport-neutral outbound message. Text is produced from
// PromptKey and Vars by the text catalog; Raw bypasses the catalog.
type Reply struct {
	Kind      ReplyKind
	ChatID    int64
	Language  Language
	PromptKey string
	Vars      map[string]interface{}
	Raw       string
	Buttons   [][]Button
	Keyboard  KeyboardKind
	FileName  string
	FileBytes []byte
	// ImageRef is a transport file id. Documents with it set are resent by id.
	ImageRef string
}

// Button payloads used by the conversation.
const (
	PayloadLanguagePrefix  = "lang_"
	PayloadPaymentDone     = "payment_done"
	PayloadRegisterAnother = "register_another"
)
