package domain

import (
	"context"
	"time"
)

// Sender delivers user-facing replies back to a chat. Implementations own
// chunking and retry; callers treat delivery as best-effort.
type Sender interface {
	SendMessage(chatID int64, text string)
	ReplyTo(chatID int64, messageID int, text string)
	SendPhotoFile(chatID int64, path, caption string)
}

// MediaFetcher downloads one attachment into a transient byte buffer. Any
// local storage used for the transfer is released before FetchPhoto returns.
type MediaFetcher interface {
	FetchPhoto(ctx context.Context, fileID string) ([]byte, error)
}

// RequestLog is the append-only audit sink for generation attempts. Append
// never fails from the caller's point of view.
type RequestLog interface {
	Append(ts time.Time, requester, result, requestText string)
}
