package store

// Chat kinds.
const (
	ChatDirect = "direct"
	ChatGroup  = "group"
)

// Message kinds.
const (
	MessageText     = "text"
	MessageTransfer = "transfer"
	MessageCall     = "call"
	MessageSystem   = "system"
)

// Transfer directions.
const (
	TransferIn  = "in"
	TransferOut = "out"
)

// Contact is one archive contact row. About exists only in generation 2
// archives and reads as empty elsewhere.
type Contact struct {
	ID          int64
	Handle      string
	DisplayName string
	Phone       string
	Email       string
	About       string
}

// Chat is one archive chat row. Participants are loaded by the chat
// scanner. Topic exists only in generation 2 archives.
type Chat struct {
	ID           int64
	Kind         string
	DisplayName  string
	Topic        string
	CreatedAt    int64
	Participants []Contact
}

// Message is one archive message row. AuthorHandle and AuthorName are
// populated by scans (joined from the author contact) for fingerprinting;
// they are not stored on the message itself. Edited and Removed exist
// only in generation 2 archives.
type Message struct {
	ID           int64
	ChatID       int64
	AuthorID     int64
	Timestamp    int64
	Body         string
	Kind         string
	Edited       bool
	Removed      bool
	AuthorHandle string
	AuthorName   string
}

// Transfer is one archive file-transfer row, owned by a message.
type Transfer struct {
	ID        int64
	MessageID int64
	Filename  string
	Size      int64
	Direction string
}
