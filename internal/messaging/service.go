package messaging

import (
	"context"

	"github.com/Markl1n1/SMM-Leads-sub000/internal/models"
)

// Service defines a pluggable message delivery abstraction.
// It supports sending and editing chat messages and provides a channel of
// inbound updates.
type Service interface {
	// SendMessage sends a text message, optionally with an inline keyboard.
	// It returns the id of the sent message.
	SendMessage(ctx context.Context, chatID int64, text string, keyboard [][]models.Button) (int64, error)

	// SendPhoto sends a photo by file reference with an optional caption.
	SendPhoto(ctx context.Context, chatID int64, fileID, caption string, keyboard [][]models.Button) (int64, error)

	// SendDocument sends an in-memory file as a document attachment.
	SendDocument(ctx context.Context, chatID int64, filename string, data []byte, caption string) (int64, error)

	// EditMessage replaces the text and keyboard of a previously sent message.
	EditMessage(ctx context.Context, chatID, messageID int64, text string, keyboard [][]models.Button) error

	// DeleteMessage removes a previously sent message.
	DeleteMessage(ctx context.Context, chatID, messageID int64) error

	// AnswerCallback acknowledges a button press, optionally with a toast.
	AnswerCallback(ctx context.Context, callbackID, text string) error

	// DownloadFile fetches the raw bytes of a file reference along with its
	// content type.
	DownloadFile(ctx context.Context, fileID string) ([]byte, string, error)

	// Updates returns a channel of inbound updates.
	Updates() <-chan models.Update

	// Start begins background polling for updates.
	Start(ctx context.Context) error

	// Stop stops background processing and cleans up resources.
	Stop() error
}
