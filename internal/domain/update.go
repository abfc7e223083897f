package domain

// ChatKind mirrors the Telegram chat type field.
type ChatKind string

const (
	ChatPrivate    ChatKind = "private"
	ChatGroup      ChatKind = "group"
	ChatSupergroup ChatKind = "supergroup"
	ChatChannel    ChatKind = "channel"
)

type Chat struct {
	ID    int64
	Kind  ChatKind
	Title string
}

type User struct {
	ID       int64
	Username string
}

// EntityKind is an annotated-span kind within message text.
type EntityKind string

const (
	EntityMention    EntityKind = "mention"
	EntityBotCommand EntityKind = "bot_command"
)

// Entity is one annotated span. Offset and Length address bytes of the
// message text; malformed spans are tolerated by the router.
type Entity struct {
	Kind   EntityKind
	Offset int
	Length int
}

// Message is one chat message, possibly carrying a reply target with its
// own text/media. Immutable once received.
type Message struct {
	ID       int
	Chat     Chat
	From     User
	Text     string
	Entities []Entity
	ReplyTo  *Message

	// HasPhoto marks attached media; PhotoFileID addresses the
	// highest-resolution variant for download.
	HasPhoto    bool
	PhotoFileID string
}

// MemberStatus is the bot's own membership status in a chat.
type MemberStatus string

const (
	MemberCreator       MemberStatus = "creator"
	MemberAdministrator MemberStatus = "administrator"
	MemberMember        MemberStatus = "member"
	MemberRestricted    MemberStatus = "restricted"
	MemberLeft          MemberStatus = "left"
	MemberKicked        MemberStatus = "kicked"
)

type MemberUpdate struct {
	Chat      Chat
	NewStatus MemberStatus
}

// Update is one inbound event delivered by the transport. Exactly one of
// Message, EditedMessage, or MemberUpdate is set for recognized shapes;
// an Update with none set is an unknown shape.
type Update struct {
	ID            int
	Message       *Message
	EditedMessage *Message
	MemberUpdate  *MemberUpdate
}

// Msg returns the plain or edited message carried by the update, if any.
func (u *Update) Msg() *Message {
	if u.Message != nil {
		return u.Message
	}
	return u.EditedMessage
}
