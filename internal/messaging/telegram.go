// Package messaging provides the chat transport for the lead bot.
//
// TelegramService speaks the Telegram Bot API over HTTP long polling and
// translates raw updates into models.Update values.
package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/Markl1n1/SMM-Leads-sub000/internal/models"
	"github.com/cenkalti/backoff/v4"
)

// DefaultAPIBaseURL is the production Bot API endpoint.
const DefaultAPIBaseURL = "https://api.telegram.org"

// pollTimeout is the long-polling timeout passed to getUpdates, in seconds.
const pollTimeout = 30

// Opts holds configuration options for the Telegram service.
type Opts struct {
	Token   string
	BaseURL string
	HTTP    *http.Client
}

// Option defines a configuration option for the Telegram service.
type Option func(*Opts)

// WithToken sets the bot token.
func WithToken(token string) Option {
	return func(o *Opts) {
		o.Token = token
	}
}

// WithBaseURL overrides the Bot API base URL, used in tests.
func WithBaseURL(url string) Option {
	return func(o *Opts) {
		o.BaseURL = url
	}
}

// WithHTTPClient overrides the HTTP client, used in tests.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) {
		o.HTTP = c
	}
}

// TelegramService is the Bot API implementation of Service.
type TelegramService struct {
	token   string
	baseURL string
	http    *http.Client

	updates chan models.Update
	offset  int64

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped chan struct{}
}

// NewTelegramService creates a new Telegram service, applying any provided
// options.
func NewTelegramService(opts ...Option) (*TelegramService, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("Telegram NewTelegramService options set", "token_set", cfg.Token != "", "baseURL_set", cfg.BaseURL != "")

	if cfg.Token == "" {
		slog.Error("Telegram bot token not set")
		return nil, fmt.Errorf("bot token not set")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultAPIBaseURL
	}
	if cfg.HTTP == nil {
		// Long polling holds the connection open for pollTimeout seconds.
		cfg.HTTP = &http.Client{Timeout: (pollTimeout + 10) * time.Second}
	}

	return &TelegramService{
		token:   cfg.Token,
		baseURL: cfg.BaseURL,
		http:    cfg.HTTP,
		updates: make(chan models.Update, 64),
	}, nil
}

// apiResponse is the Bot API envelope.
type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	Description string          `json:"description"`
	Parameters  *struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

// rawUpdate mirrors the subset of the Bot API update object the bot consumes.
type rawUpdate struct {
	UpdateID int64       `json:"update_id"`
	Message  *rawMessage `json:"message"`
	Callback *struct {
		ID      string      `json:"id"`
		From    rawUser     `json:"from"`
		Message *rawMessage `json:"message"`
		Data    string      `json:"data"`
	} `json:"callback_query"`
}

type rawUser struct {
	ID        int64  `json:"id"`
	IsBot     bool   `json:"is_bot"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Username  string `json:"username"`
}

type rawMessage struct {
	MessageID int64    `json:"message_id"`
	From      *rawUser `json:"from"`
	Chat      struct {
		ID int64 `json:"id"`
	} `json:"chat"`
	Text    string `json:"text"`
	Caption string `json:"caption"`
	Photo   []struct {
		FileID   string `json:"file_id"`
		FileSize int64  `json:"file_size"`
	} `json:"photo"`
	Document *struct {
		FileID   string `json:"file_id"`
		FileName string `json:"file_name"`
		MIMEType string `json:"mime_type"`
	} `json:"document"`
	ForwardFrom       *rawUser `json:"forward_from"`
	ForwardSenderName string   `json:"forward_sender_name"`
}

// translate converts a raw Bot API update into a models.Update, or nil for
// update kinds the bot does not handle.
func translate(r rawUpdate) *models.Update {
	if r.Callback != nil {
		u := &models.Update{
			ActorID:    r.Callback.From.ID,
			Callback:   r.Callback.Data,
			CallbackID: r.Callback.ID,
			From: models.Profile{
				FirstName: r.Callback.From.FirstName,
				LastName:  r.Callback.From.LastName,
				Username:  r.Callback.From.Username,
			},
		}
		if r.Callback.Message != nil {
			u.CallbackMessageID = r.Callback.Message.MessageID
			// Keep the actor keyed by chat, same as text updates, so one
			// conversation never splits across two session keys.
			u.ActorID = r.Callback.Message.Chat.ID
		}
		return u
	}
	if r.Message == nil || r.Message.From == nil {
		return nil
	}
	m := r.Message
	u := &models.Update{
		ActorID:   m.Chat.ID,
		MessageID: m.MessageID,
		Text:      m.Text,
		Caption:   m.Caption,
		From: models.Profile{
			FirstName: m.From.FirstName,
			LastName:  m.From.LastName,
			Username:  m.From.Username,
		},
	}
	// Telegram sends photos in ascending resolutions; take the largest.
	if len(m.Photo) > 0 {
		u.PhotoFileID = m.Photo[len(m.Photo)-1].FileID
	}
	if m.Document != nil {
		u.DocumentID = m.Document.FileID
		u.DocumentMIME = m.Document.MIMEType
		u.DocumentName = m.Document.FileName
	}
	if m.ForwardFrom != nil {
		u.Forward = &models.ForwardMeta{
			SenderID:  m.ForwardFrom.ID,
			Username:  m.ForwardFrom.Username,
			FirstName: m.ForwardFrom.FirstName,
			LastName:  m.ForwardFrom.LastName,
			IsBot:     m.ForwardFrom.IsBot,
		}
	} else if m.ForwardSenderName != "" {
		// Privacy settings hide the sender; only the display name survives.
		u.Forward = &models.ForwardMeta{
			FirstName:    m.ForwardSenderName,
			HiddenSender: true,
		}
	}
	return u
}

// call performs one Bot API method call with retry on transport errors, 5xx
// and rate limiting. The retry_after hint from 429 responses is honored.
func (s *TelegramService) call(ctx context.Context, method string, payload any) (json.RawMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s payload: %w", method, err)
	}
	url := fmt.Sprintf("%s/bot%s/%s", s.baseURL, s.token, method)

	var result json.RawMessage
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := s.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		var env apiResponse
		if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
			return fmt.Errorf("failed to decode %s response: %w", method, err)
		}
		if env.OK {
			result = env.Result
			return nil
		}
		if resp.StatusCode == http.StatusTooManyRequests && env.Parameters != nil {
			wait := time.Duration(env.Parameters.RetryAfter) * time.Second
			slog.Warn("Telegram rate limited", "method", method, "retry_after", wait)
			// Honor the server's retry_after hint before letting the
			// backoff schedule its own attempt.
			select {
			case <-ctx.Done():
				return backoff.Permanent(ctx.Err())
			case <-time.After(wait):
			}
			return fmt.Errorf("%s rate limited, retry after %s", method, wait)
		}
		if resp.StatusCode >= 500 {
			return fmt.Errorf("%s returned %d: %s", method, resp.StatusCode, env.Description)
		}
		return backoff.Permanent(fmt.Errorf("%s failed: %s", method, env.Description))
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.RandomizationFactor = 0
	if err := backoff.Retry(op, backoff.WithMaxRetries(backoff.WithContext(b, ctx), 2)); err != nil {
		return nil, err
	}
	return result, nil
}

// renderKeyboard converts button rows into the Bot API inline keyboard shape.
func renderKeyboard(rows [][]models.Button) map[string]any {
	if len(rows) == 0 {
		return nil
	}
	kb := make([][]map[string]string, 0, len(rows))
	for _, row := range rows {
		r := make([]map[string]string, 0, len(row))
		for _, b := range row {
			r = append(r, map[string]string{"text": b.Label, "callback_data": b.Data})
		}
		kb = append(kb, r)
	}
	return map[string]any{"inline_keyboard": kb}
}

func messageIDFrom(raw json.RawMessage) int64 {
	var sent struct {
		MessageID int64 `json:"message_id"`
	}
	if err := json.Unmarshal(raw, &sent); err != nil {
		return 0
	}
	return sent.MessageID
}

// SendMessage sends an HTML-formatted text message.
func (s *TelegramService) SendMessage(ctx context.Context, chatID int64, text string, keyboard [][]models.Button) (int64, error) {
	if text == "" {
		return 0, fmt.Errorf("message text cannot be empty")
	}
	payload := map[string]any{
		"chat_id":    chatID,
		"text":       text,
		"parse_mode": "HTML",
	}
	if kb := renderKeyboard(keyboard); kb != nil {
		payload["reply_markup"] = kb
	}
	raw, err := s.call(ctx, "sendMessage", payload)
	if err != nil {
		slog.Error("Telegram sendMessage failed", "error", err, "chat", chatID)
		return 0, err
	}
	id := messageIDFrom(raw)
	slog.Debug("Telegram message sent", "chat", chatID, "message_id", id, "text_length", len(text))
	return id, nil
}

// SendPhoto sends a photo by Telegram file id with an optional HTML caption.
func (s *TelegramService) SendPhoto(ctx context.Context, chatID int64, fileID, caption string, keyboard [][]models.Button) (int64, error) {
	if fileID == "" {
		return 0, fmt.Errorf("photo file id cannot be empty")
	}
	payload := map[string]any{
		"chat_id":    chatID,
		"photo":      fileID,
		"parse_mode": "HTML",
	}
	if caption != "" {
		payload["caption"] = caption
	}
	if kb := renderKeyboard(keyboard); kb != nil {
		payload["reply_markup"] = kb
	}
	raw, err := s.call(ctx, "sendPhoto", payload)
	if err != nil {
		slog.Error("Telegram sendPhoto failed", "error", err, "chat", chatID)
		return 0, err
	}
	return messageIDFrom(raw), nil
}

// SendDocument sends an in-memory file as a document attachment via
// multipart upload.
func (s *TelegramService) SendDocument(ctx context.Context, chatID int64, filename string, data []byte, caption string) (int64, error) {
	if len(data) == 0 {
		return 0, fmt.Errorf("document data cannot be empty")
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("chat_id", strconv.FormatInt(chatID, 10)); err != nil {
		return 0, err
	}
	if caption != "" {
		if err := w.WriteField("caption", caption); err != nil {
			return 0, err
		}
	}
	part, err := w.CreateFormFile("document", filename)
	if err != nil {
		return 0, err
	}
	if _, err := part.Write(data); err != nil {
		return 0, err
	}
	if err := w.Close(); err != nil {
		return 0, err
	}

	url := fmt.Sprintf("%s/bot%s/sendDocument", s.baseURL, s.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := s.http.Do(req)
	if err != nil {
		slog.Error("Telegram sendDocument failed", "error", err, "chat", chatID)
		return 0, err
	}
	defer resp.Body.Close()

	var env apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return 0, fmt.Errorf("failed to decode sendDocument response: %w", err)
	}
	if !env.OK {
		slog.Error("Telegram sendDocument rejected", "chat", chatID, "description", env.Description)
		return 0, fmt.Errorf("sendDocument failed: %s", env.Description)
	}
	slog.Debug("Telegram document sent", "chat", chatID, "filename", filename, "size", len(data))
	return messageIDFrom(env.Result), nil
}

// EditMessage replaces the text and keyboard of a previously sent message.
func (s *TelegramService) EditMessage(ctx context.Context, chatID, messageID int64, text string, keyboard [][]models.Button) error {
	payload := map[string]any{
		"chat_id":    chatID,
		"message_id": messageID,
		"text":       text,
		"parse_mode": "HTML",
	}
	if kb := renderKeyboard(keyboard); kb != nil {
		payload["reply_markup"] = kb
	}
	_, err := s.call(ctx, "editMessageText", payload)
	if err != nil {
		slog.Error("Telegram editMessageText failed", "error", err, "chat", chatID, "message_id", messageID)
	}
	return err
}

// DeleteMessage removes a previously sent message. Deleting an already
// deleted message is not an error worth surfacing to flows; the caller
// decides whether to ignore failures.
func (s *TelegramService) DeleteMessage(ctx context.Context, chatID, messageID int64) error {
	_, err := s.call(ctx, "deleteMessage", map[string]any{
		"chat_id":    chatID,
		"message_id": messageID,
	})
	if err != nil {
		slog.Debug("Telegram deleteMessage failed", "error", err, "chat", chatID, "message_id", messageID)
	}
	return err
}

// AnswerCallback acknowledges a button press so the client stops showing a
// progress spinner.
func (s *TelegramService) AnswerCallback(ctx context.Context, callbackID, text string) error {
	payload := map[string]any{"callback_query_id": callbackID}
	if text != "" {
		payload["text"] = text
	}
	_, err := s.call(ctx, "answerCallbackQuery", payload)
	return err
}

// DownloadFile resolves a file id through getFile and fetches its bytes.
func (s *TelegramService) DownloadFile(ctx context.Context, fileID string) ([]byte, string, error) {
	raw, err := s.call(ctx, "getFile", map[string]any{"file_id": fileID})
	if err != nil {
		return nil, "", fmt.Errorf("failed to resolve file %s: %w", fileID, err)
	}
	var file struct {
		FilePath string `json:"file_path"`
	}
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, "", fmt.Errorf("failed to decode getFile response: %w", err)
	}
	if file.FilePath == "" {
		return nil, "", fmt.Errorf("file %s has no download path", fileID)
	}

	url := fmt.Sprintf("%s/file/bot%s/%s", s.baseURL, s.token, file.FilePath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := s.http.Do(req)
	if err != nil {
		slog.Error("Telegram file download failed", "error", err, "file_id", fileID)
		return nil, "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("file download returned %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", err
	}
	slog.Debug("Telegram file downloaded", "file_id", fileID, "size", len(data))
	return data, resp.Header.Get("Content-Type"), nil
}

// Updates returns the channel of inbound updates.
func (s *TelegramService) Updates() <-chan models.Update {
	return s.updates
}

// Start begins long polling for updates in a background goroutine.
func (s *TelegramService) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return fmt.Errorf("telegram service already started")
	}
	pollCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.stopped = make(chan struct{})
	go s.pollLoop(pollCtx)
	slog.Info("Telegram service started")
	return nil
}

func (s *TelegramService) pollLoop(ctx context.Context) {
	defer close(s.stopped)
	defer close(s.updates)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		raw, err := s.call(ctx, "getUpdates", map[string]any{
			"offset":  s.offset,
			"timeout": pollTimeout,
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Error("Telegram getUpdates failed", "error", err)
			select {
			case <-time.After(5 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		var updates []rawUpdate
		if err := json.Unmarshal(raw, &updates); err != nil {
			slog.Error("Telegram getUpdates decode failed", "error", err)
			continue
		}
		for _, r := range updates {
			if r.UpdateID >= s.offset {
				s.offset = r.UpdateID + 1
			}
			u := translate(r)
			if u == nil {
				continue
			}
			select {
			case s.updates <- *u:
			case <-ctx.Done():
				return
			}
		}
	}
}

// Stop stops background polling and waits for the poll loop to exit.
func (s *TelegramService) Stop() error {
	s.mu.Lock()
	cancel := s.cancel
	stopped := s.stopped
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-stopped
	slog.Info("Telegram service stopped")
	return nil
}
