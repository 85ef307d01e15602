package models

// ForwardMeta carries the forwarded-sender metadata of an inbound update.
// HiddenSender is set when privacy settings conceal the original sender, in
// which case only the photo and any link in the caption are extractable.
type ForwardMeta struct {
	SenderID     int64
	Username     string
	FirstName    string
	LastName     string
	IsBot        bool
	HiddenSender bool
}

// Profile identifies the operator driving a session. Manager identity on
// saved leads is derived from it.
type Profile struct {
	FirstName string
	LastName  string
	Username  string
}

// Update is a transport-agnostic inbound event: a text message, a photo or
// document, a forwarded message, or a button press (Callback token).
type Update struct {
	ActorID   int64
	MessageID int64
	Text      string
	Caption   string

	PhotoFileID  string
	DocumentID   string
	DocumentMIME string
	DocumentName string

	// Callback is the action token of a pressed button; CallbackID and
	// CallbackMessageID identify the press and the message carrying the
	// keyboard so the handler can acknowledge and edit it in place.
	Callback          string
	CallbackID        string
	CallbackMessageID int64

	Forward *ForwardMeta
	From    Profile
}

// IsForwarded reports whether the update carries forward metadata.
func (u *Update) IsForwarded() bool {
	return u.Forward != nil
}

// HasPhoto reports whether the update carries a photo or image document
// reference.
func (u *Update) HasPhoto() bool {
	return u.PhotoFileID != "" || u.DocumentID != ""
}

// Button is a single inline action button.
type Button struct {
	Label string
	Data  string
}

// Row builds one keyboard row.
func Row(buttons ...Button) []Button {
	return buttons
}
