package router

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"genbot/internal/dispatch"
	"genbot/internal/domain"
)

const selfID int64 = 777

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func textUpdate(id int, text string, entities ...domain.Entity) domain.Update {
	return domain.Update{
		ID: id,
		Message: &domain.Message{
			ID:       id,
			Chat:     domain.Chat{ID: 10, Kind: domain.ChatGroup},
			From:     domain.User{ID: 1, Username: "alice"},
			Text:     text,
			Entities: entities,
		},
	}
}

func TestClassify_BotCommand(t *testing.T) {
	u := textUpdate(1, "/image a cat", domain.Entity{Kind: domain.EntityBotCommand, Offset: 0, Length: 6})

	c := Classify(&u, selfID)
	if c.Kind != Command {
		t.Fatalf("kind: got %v, want Command", c.Kind)
	}
	if c.Verb != "/image" {
		t.Errorf("verb: got %q", c.Verb)
	}
	if c.Args != "a cat" {
		t.Errorf("args: got %q", c.Args)
	}
}

func TestClassify_CommandWithoutArguments(t *testing.T) {
	u := textUpdate(1, "/stats", domain.Entity{Kind: domain.EntityBotCommand, Offset: 0, Length: 6})

	c := Classify(&u, selfID)
	if c.Kind != Command || c.Verb != "/stats" || c.Args != "" {
		t.Errorf("got kind=%v verb=%q args=%q", c.Kind, c.Verb, c.Args)
	}
}

func TestClassify_MentionWinsOverLaterCommand(t *testing.T) {
	u := textUpdate(1, "@bot /image x",
		domain.Entity{Kind: domain.EntityMention, Offset: 0, Length: 4},
		domain.Entity{Kind: domain.EntityBotCommand, Offset: 5, Length: 6},
	)

	c := Classify(&u, selfID)
	if c.Kind != Mention {
		t.Errorf("kind: got %v, want Mention", c.Kind)
	}
}

func TestClassify_UnknownEntityWarnsOnly(t *testing.T) {
	u := textUpdate(1, "http://example.com /image x",
		domain.Entity{Kind: "url", Offset: 0, Length: 18},
		domain.Entity{Kind: domain.EntityBotCommand, Offset: 19, Length: 6},
	)

	c := Classify(&u, selfID)
	if c.Kind != Command {
		t.Fatalf("unknown entity must not block a later command, got %v", c.Kind)
	}
	if len(c.Warnings) != 1 {
		t.Errorf("expected one warning, got %v", c.Warnings)
	}
}

func TestClassify_MalformedEntitySpanDoesNotPanic(t *testing.T) {
	u := textUpdate(1, "/hi", domain.Entity{Kind: domain.EntityBotCommand, Offset: 1, Length: 99})

	c := Classify(&u, selfID)
	if c.Kind != Command || c.Verb != "hi" {
		t.Errorf("clamped verb: got %q (kind %v)", c.Verb, c.Kind)
	}
}

func TestClassify_ReplyToBotPhotoIsImageContinuation(t *testing.T) {
	u := textUpdate(1, "make it darker")
	u.Message.ReplyTo = &domain.Message{
		From:        domain.User{ID: selfID},
		HasPhoto:    true,
		PhotoFileID: "f1",
		Text:        "arbitrary text alongside media",
	}

	c := Classify(&u, selfID)
	if c.Kind != ReplyContinuation || c.Cont != ContImage {
		t.Fatalf("got kind=%v cont=%v, want image continuation", c.Kind, c.Cont)
	}
	if c.Args != "make it darker" {
		t.Errorf("args: got %q", c.Args)
	}
}

func TestClassify_ReplyToBotTextIsTextContinuation(t *testing.T) {
	u := textUpdate(1, "shorter please")
	u.Message.ReplyTo = &domain.Message{From: domain.User{ID: selfID}, Text: "a long story"}

	c := Classify(&u, selfID)
	if c.Kind != ReplyContinuation || c.Cont != ContText {
		t.Errorf("got kind=%v cont=%v, want text continuation", c.Kind, c.Cont)
	}
}

func TestClassify_ReplyToSomeoneElseIsNotContinuation(t *testing.T) {
	u := textUpdate(1, "nice one")
	u.Message.ReplyTo = &domain.Message{From: domain.User{ID: 42}, Text: "hello"}

	c := Classify(&u, selfID)
	if c.Kind != Unknown {
		t.Errorf("group reply to a stranger should stay unclassified, got %v", c.Kind)
	}
}

func TestClassify_PrivateDefault(t *testing.T) {
	u := textUpdate(1, "tell me a joke")
	u.Message.Chat.Kind = domain.ChatPrivate

	c := Classify(&u, selfID)
	if c.Kind != PrivateDefault {
		t.Fatalf("kind: got %v, want PrivateDefault", c.Kind)
	}
	if c.Args != "tell me a joke" {
		t.Errorf("args: got %q", c.Args)
	}
}

func TestClassify_EditedMessageIsClassified(t *testing.T) {
	u := domain.Update{
		ID: 2,
		EditedMessage: &domain.Message{
			Chat:     domain.Chat{ID: 10, Kind: domain.ChatGroup},
			From:     domain.User{Username: "alice"},
			Text:     "/text hi",
			Entities: []domain.Entity{{Kind: domain.EntityBotCommand, Offset: 0, Length: 5}},
		},
	}

	c := Classify(&u, selfID)
	if c.Kind != Command || c.Verb != "/text" {
		t.Errorf("edited message: got kind=%v verb=%q", c.Kind, c.Verb)
	}
}

func TestClassify_Membership(t *testing.T) {
	u := domain.Update{
		ID: 3,
		MemberUpdate: &domain.MemberUpdate{
			Chat:      domain.Chat{Kind: domain.ChatGroup, Title: "friends"},
			NewStatus: domain.MemberKicked,
		},
	}

	c := Classify(&u, selfID)
	if c.Kind != Membership || c.Status != domain.MemberKicked {
		t.Errorf("got kind=%v status=%q", c.Kind, c.Status)
	}
}

func TestClassify_EmptyUpdateIsUnknown(t *testing.T) {
	u := domain.Update{ID: 4}
	if c := Classify(&u, selfID); c.Kind != Unknown {
		t.Errorf("got %v, want Unknown", c.Kind)
	}
}

// --- Process ---

type recordingDispatcher struct {
	commands []dispatch.Command
	panics   bool
}

func (r *recordingDispatcher) Dispatch(ctx context.Context, cmd dispatch.Command) {
	if r.panics {
		panic("dispatcher blew up")
	}
	r.commands = append(r.commands, cmd)
}

type recordingSender struct {
	replies []string
}

func (r *recordingSender) SendMessage(chatID int64, text string)        { r.replies = append(r.replies, text) }
func (r *recordingSender) ReplyTo(chatID int64, msgID int, text string) { r.replies = append(r.replies, text) }
func (r *recordingSender) SendPhotoFile(chatID int64, path, caption string) {}

func newTestRouter(d Dispatcher, s domain.Sender) *Router {
	return New(Config{
		SelfID:       selfID,
		Dispatcher:   d,
		Sender:       s,
		MentionReply: "go away",
		Logger:       testLogger(),
	})
}

func TestProcess_CommandReachesDispatcher(t *testing.T) {
	d := &recordingDispatcher{}
	s := &recordingSender{}
	r := newTestRouter(d, s)

	batch := []domain.Update{
		textUpdate(5, "/image a cat", domain.Entity{Kind: domain.EntityBotCommand, Offset: 0, Length: 6}),
	}
	last := r.Process(context.Background(), batch)

	if last != 5 {
		t.Errorf("last id: got %d", last)
	}
	if len(d.commands) != 1 {
		t.Fatalf("expected one dispatch, got %d", len(d.commands))
	}
	cmd := d.commands[0]
	if cmd.Verb != "/image" || cmd.Args != "a cat" || cmd.Requester != "alice" {
		t.Errorf("dispatched command: %+v", cmd)
	}
	if len(s.replies) != 0 {
		t.Errorf("command routing must not produce a canned reply: %v", s.replies)
	}
}

func TestProcess_MentionGetsCannedReplyAndNoDispatch(t *testing.T) {
	d := &recordingDispatcher{}
	s := &recordingSender{}
	r := newTestRouter(d, s)

	batch := []domain.Update{
		textUpdate(6, "@bot hi", domain.Entity{Kind: domain.EntityMention, Offset: 0, Length: 4}),
	}
	r.Process(context.Background(), batch)

	if len(s.replies) != 1 || s.replies[0] != "go away" {
		t.Errorf("mention reply: got %v", s.replies)
	}
	if len(d.commands) != 0 {
		t.Error("mention must not reach the dispatcher")
	}
}

func TestProcess_ImageContinuationDispatchesImageVerb(t *testing.T) {
	d := &recordingDispatcher{}
	r := newTestRouter(d, &recordingSender{})

	u := textUpdate(7, "arbitrary follow-up text")
	u.Message.ReplyTo = &domain.Message{From: domain.User{ID: selfID}, HasPhoto: true, PhotoFileID: "f9"}
	r.Process(context.Background(), []domain.Update{u})

	if len(d.commands) != 1 || d.commands[0].Verb != "/image" {
		t.Fatalf("expected /image dispatch, got %+v", d.commands)
	}
	if d.commands[0].ReplyTarget == nil || !d.commands[0].ReplyTarget.HasPhoto {
		t.Error("reply target with media must flow through to the dispatcher")
	}
}

func TestProcess_PrivateDefaultDispatchesTextVerb(t *testing.T) {
	d := &recordingDispatcher{}
	r := newTestRouter(d, &recordingSender{})

	u := textUpdate(8, "hello there")
	u.Message.Chat.Kind = domain.ChatPrivate
	r.Process(context.Background(), []domain.Update{u})

	if len(d.commands) != 1 || d.commands[0].Verb != "/text" || d.commands[0].Args != "hello there" {
		t.Errorf("expected /text dispatch with full text, got %+v", d.commands)
	}
}

func TestProcess_MarkerAdvancesPastFailures(t *testing.T) {
	d := &recordingDispatcher{panics: true}
	r := newTestRouter(d, &recordingSender{})

	batch := []domain.Update{
		textUpdate(9, "/text boom", domain.Entity{Kind: domain.EntityBotCommand, Offset: 0, Length: 5}),
		{ID: 10, MemberUpdate: &domain.MemberUpdate{Chat: domain.Chat{Kind: domain.ChatGroup, Title: "g"}, NewStatus: domain.MemberLeft}},
	}
	last := r.Process(context.Background(), batch)

	if last != 10 {
		t.Errorf("marker must advance past a failed update, got %d", last)
	}
}

func TestProcess_EmptyBatch(t *testing.T) {
	r := newTestRouter(&recordingDispatcher{}, &recordingSender{})
	if last := r.Process(context.Background(), nil); last != -1 {
		t.Errorf("empty batch: got %d, want -1", last)
	}
}

func TestProcess_AtMostOneSideEffectPerUpdate(t *testing.T) {
	d := &recordingDispatcher{}
	s := &recordingSender{}
	r := newTestRouter(d, s)

	// Mention and command in the same message: the mention is terminal.
	batch := []domain.Update{
		textUpdate(11, "@bot /image x",
			domain.Entity{Kind: domain.EntityMention, Offset: 0, Length: 4},
			domain.Entity{Kind: domain.EntityBotCommand, Offset: 5, Length: 6},
		),
	}
	r.Process(context.Background(), batch)

	if len(s.replies)+len(d.commands) != 1 {
		t.Errorf("expected exactly one side effect, got replies=%v commands=%v", s.replies, d.commands)
	}
}
