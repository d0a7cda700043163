package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ariefcatur/go-storefront-orders/internal/logger"
)

const telegramTimeout = 3 * time.Second

type Telegram struct {
	endpoint string
	chatID   string
	client   *http.Client
	logg     *logger.Logger
	wg       sync.WaitGroup
}

func NewTelegram(apiBase, botToken, chatID string, logg *logger.Logger) *Telegram {
	if logg == nil {
		logg = logger.Nop()
	}
	return &Telegram{
		endpoint: strings.TrimRight(apiBase, "/") + "/bot" + botToken + "/sendMessage",
		chatID:   chatID,
		client:   &http.Client{Timeout: telegramTimeout},
		logg:     logg,
	}
}

// Notify sends in the background; failures are only logged.
func (t *Telegram) Notify(ctx context.Context, event Event, details Details) {
	text := Render(event, details)
	logCtx := t.logg.WithField(ctx, "event", string(event))
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), telegramTimeout)
		defer cancel()
		if err := t.Send(sendCtx, text); err != nil {
			t.logg.Warn(t.logg.WithField(logCtx, "error", err.Error()), "telegram notification failed")
		}
	}()
}

// Wait blocks until background sends have finished.
func (t *Telegram) Wait() { t.wg.Wait() }

func (t *Telegram) Send(ctx context.Context, text string) error {
	body, err := json.Marshal(map[string]any{
		"chat_id":                  t.chatID,
		"text":                     text,
		"parse_mode":               "MarkdownV2",
		"disable_web_page_preview": true,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("telegram: status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	return nil
}
