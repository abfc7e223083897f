// Package channel adapts the Telegram Bot API to the domain model: it
// long-polls for update batches, converts them to domain records, delivers
// replies, and downloads replied-to media.
package channel

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"genbot/internal/domain"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	telegramMaxMsgLen      = 4000
	telegramMaxSendRetries = 3
)

// Telegram implements domain.Sender and domain.MediaFetcher over a long-poll
// connection.
type Telegram struct {
	bot         *tgbotapi.BotAPI
	pollTimeout int
	logger      *slog.Logger
}

type Config struct {
	Token              string
	PollTimeoutSeconds int
	Logger             *slog.Logger
}

func NewTelegram(cfg Config) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}
	if cfg.PollTimeoutSeconds <= 0 {
		cfg.PollTimeoutSeconds = 30
	}
	t := &Telegram{
		bot:         bot,
		pollTimeout: cfg.PollTimeoutSeconds,
		logger:      cfg.Logger,
	}
	t.logger.Info("telegram bot connected",
		"username", bot.Self.UserName,
		"id", bot.Self.ID,
	)
	return t, nil
}

// SelfID returns the bot's own user id, used by the router to recognize
// replies to the bot's messages.
func (t *Telegram) SelfID() int64 { return t.bot.Self.ID }

// Poll fetches update batches until ctx is done. handler processes one
// batch and returns the id of the last processed update, or a negative
// value for an empty batch; the poll offset advances past that id so a
// failed update is never redelivered. startOffset is the first update id
// to request, or a negative value to start from the beginning.
func (t *Telegram) Poll(ctx context.Context, startOffset int, handler func(batch []domain.Update) int) error {
	offset := 0
	if startOffset > 0 {
		offset = startOffset
	}

	t.logger.Info("telegram polling started", "offset", offset)
	for {
		if ctx.Err() != nil {
			t.logger.Info("telegram polling stopped")
			return nil
		}

		updates, err := t.bot.GetUpdates(tgbotapi.UpdateConfig{Offset: offset, Timeout: t.pollTimeout})
		if err != nil {
			t.logger.Error("get updates failed, backing off", "err", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(3 * time.Second):
			}
			continue
		}
		if len(updates) == 0 {
			continue
		}

		batch := make([]domain.Update, 0, len(updates))
		for _, u := range updates {
			batch = append(batch, convertUpdate(u))
		}

		if last := handler(batch); last >= 0 {
			offset = last + 1
		}
	}
}

func convertUpdate(u tgbotapi.Update) domain.Update {
	out := domain.Update{ID: u.UpdateID}
	if u.Message != nil {
		out.Message = convertMessage(u.Message)
	}
	if u.EditedMessage != nil {
		out.EditedMessage = convertMessage(u.EditedMessage)
	}
	if u.MyChatMember != nil {
		out.MemberUpdate = &domain.MemberUpdate{
			Chat: domain.Chat{
				ID:    u.MyChatMember.Chat.ID,
				Kind:  domain.ChatKind(u.MyChatMember.Chat.Type),
				Title: u.MyChatMember.Chat.Title,
			},
			NewStatus: domain.MemberStatus(u.MyChatMember.NewChatMember.Status),
		}
	}
	return out
}

func convertMessage(m *tgbotapi.Message) *domain.Message {
	msg := &domain.Message{
		ID:   m.MessageID,
		Text: m.Text,
	}
	if m.Chat != nil {
		msg.Chat = domain.Chat{ID: m.Chat.ID, Kind: domain.ChatKind(m.Chat.Type), Title: m.Chat.Title}
	}
	if m.From != nil {
		msg.From = domain.User{ID: m.From.ID, Username: m.From.UserName}
	}
	for _, e := range m.Entities {
		msg.Entities = append(msg.Entities, domain.Entity{
			Kind:   domain.EntityKind(e.Type),
			Offset: e.Offset,
			Length: e.Length,
		})
	}
	if len(m.Photo) > 0 {
		// Telegram orders photo sizes ascending; the last one is the
		// highest-resolution variant.
		msg.HasPhoto = true
		msg.PhotoFileID = m.Photo[len(m.Photo)-1].FileID
	}
	if m.ReplyToMessage != nil {
		msg.ReplyTo = convertMessage(m.ReplyToMessage)
	}
	return msg
}

// FetchPhoto downloads one photo into memory. The transfer goes through a
// temporary file that is removed on every exit path.
func (t *Telegram) FetchPhoto(ctx context.Context, fileID string) ([]byte, error) {
	url, err := t.bot.GetFileDirectURL(fileID)
	if err != nil {
		return nil, fmt.Errorf("resolve file url: %v: %w", err, domain.ErrMediaDownload)
	}

	tmp, err := os.CreateTemp("", "photo")
	if err != nil {
		return nil, fmt.Errorf("create temporary file: %v: %w", err, domain.ErrMediaDownload)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build download request: %v: %w", err, domain.ErrMediaDownload)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download photo: %v: %w", err, domain.ErrMediaDownload)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download photo: status %s: %w", resp.Status, domain.ErrMediaDownload)
	}

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		return nil, fmt.Errorf("save photo: %v: %w", err, domain.ErrMediaDownload)
	}
	data, err := os.ReadFile(tmp.Name())
	if err != nil {
		return nil, fmt.Errorf("read photo: %v: %w", err, domain.ErrMediaDownload)
	}
	return data, nil
}

// SendMessage delivers text to a chat, splitting it into chunks under the
// Telegram message length limit.
func (t *Telegram) SendMessage(chatID int64, text string) {
	t.sendMessage(chatID, 0, text)
}

// ReplyTo delivers text as a reply to a specific message.
func (t *Telegram) ReplyTo(chatID int64, messageID int, text string) {
	t.sendMessage(chatID, messageID, text)
}

// SendPhotoFile sends a local image file with a caption.
func (t *Telegram) SendPhotoFile(chatID int64, path, caption string) {
	photo := tgbotapi.NewPhoto(chatID, tgbotapi.FilePath(path))
	photo.Caption = caption
	if _, err := t.bot.Send(photo); err != nil {
		t.logger.Error("telegram photo send failed", "path", path, "err", err)
	}
}

func (t *Telegram) sendMessage(chatID int64, replyTo int, text string) {
	const maxLen = telegramMaxMsgLen
	for len(text) > 0 {
		chunk := text
		if len(chunk) > maxLen {
			cutAt := strings.LastIndex(chunk[:maxLen], "\n")
			if cutAt < maxLen/2 {
				cutAt = maxLen
			}
			chunk = text[:cutAt]
			text = text[cutAt:]
		} else {
			text = ""
		}

		t.sendChunk(chatID, replyTo, chunk)
		replyTo = 0 // only the first chunk replies to the original
	}
}

// sendChunk sends a single message chunk with retry and rate limit handling.
func (t *Telegram) sendChunk(chatID int64, replyTo int, text string) {
	const maxRetries = telegramMaxSendRetries

	for attempt := 0; attempt <= maxRetries; attempt++ {
		msg := tgbotapi.NewMessage(chatID, text)
		if replyTo != 0 {
			msg.ReplyToMessageID = replyTo
		}

		_, err := t.bot.Send(msg)
		if err == nil {
			return
		}

		errStr := err.Error()

		// Telegram rate limiting (HTTP 429).
		if strings.Contains(errStr, "Too Many Requests") || strings.Contains(errStr, "429") {
			retryAfter := time.Duration(attempt+1) * 3 * time.Second
			t.logger.Warn("telegram rate limited, backing off",
				"retry_after", retryAfter, "attempt", attempt+1,
			)
			time.Sleep(retryAfter)
			continue
		}

		if attempt < maxRetries {
			backoff := time.Duration(attempt+1) * time.Second
			t.logger.Warn("telegram send error, retrying", "err", err, "backoff", backoff)
			time.Sleep(backoff)
			continue
		}

		t.logger.Error("telegram send failed after retries", "err", err, "attempts", maxRetries+1)
	}
}
