package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/maypok86/otter"

	"github.com/vigil-mon/vigil/internal/store"
)

// Sink delivers one formatted message to a recipient.
type Sink interface {
	Send(ctx context.Context, chatID, htmlBody string) error
}

// PermanentError marks a delivery failure that retrying cannot fix
// (unknown recipient, blocked bot).
type PermanentError struct {
	StatusCode  int
	Description string
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("permanent delivery failure (status %d): %s", e.StatusCode, e.Description)
}

// TelegramSink posts messages through the Bot API sendMessage endpoint.
type TelegramSink struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewTelegramSink builds a sink for the given bot token.
func NewTelegramSink(baseURL, token string, timeout time.Duration) *TelegramSink {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &TelegramSink{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}
}

type sendMessageRequest struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

type sendMessageResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// Send posts one HTML-formatted message. HTTP 400/403 responses are
// permanent: the chat does not exist or the bot was blocked.
func (s *TelegramSink) Send(ctx context.Context, chatID, htmlBody string) error {
	payload, err := json.Marshal(sendMessageRequest{
		ChatID:                chatID,
		Text:                  htmlBody,
		ParseMode:             "HTML",
		DisableWebPagePreview: true,
	})
	if err != nil {
		return fmt.Errorf("marshal sendMessage: %w", err)
	}
	url := fmt.Sprintf("%s/bot%s/sendMessage", s.baseURL, s.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build sendMessage request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("sendMessage: %w", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode == http.StatusOK {
		return nil
	}
	var apiResp sendMessageResponse
	_ = json.Unmarshal(raw, &apiResp)
	if resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusForbidden {
		return &PermanentError{StatusCode: resp.StatusCode, Description: apiResp.Description}
	}
	return fmt.Errorf("sendMessage: status %d: %s", resp.StatusCode, apiResp.Description)
}

// ChatResolver maps external account ids to chat routes, memoized in a
// bounded cache in front of the users table.
type ChatResolver struct {
	store *store.Store
	cache otter.Cache[int64, string]
}

// NewChatResolver builds a resolver bounded to maxEntries routes.
func NewChatResolver(st *store.Store, maxEntries int) *ChatResolver {
	if maxEntries <= 0 {
		maxEntries = 1024
	}
	cache, err := otter.MustBuilder[int64, string](maxEntries).
		Cost(func(_ int64, _ string) uint32 { return 1 }).
		WithTTL(10 * time.Minute).
		Build()
	if err != nil {
		panic("alert: failed to create chat route cache: " + err.Error())
	}
	return &ChatResolver{store: st, cache: cache}
}

// Resolve returns the chat id for an owner, consulting the cache first.
func (r *ChatResolver) Resolve(ctx context.Context, ownerID int64) (string, error) {
	if chatID, ok := r.cache.Get(ownerID); ok {
		return chatID, nil
	}
	chatID, err := r.store.ChatIDFor(ctx, ownerID)
	if err != nil {
		return "", err
	}
	r.cache.Set(ownerID, chatID)
	return chatID, nil
}

// Invalidate drops a cached route, e.g. after a permanent delivery failure.
func (r *ChatResolver) Invalidate(ownerID int64) {
	r.cache.Delete(ownerID)
}

// Close releases the underlying cache.
func (r *ChatResolver) Close() {
	r.cache.Close()
}
