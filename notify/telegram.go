package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"strings"

	"adwatch/models"
)

const defaultAPIBase = "https://api.telegram.org"

// TelegramNotifier delivers listing notifications over the Telegram Bot API.
// The user id is the chat id. Listings with an image go out as a photo with
// caption, the rest as a plain message.
type TelegramNotifier struct {
	token   string
	client  *http.Client
	apiBase string
}

func NewTelegramNotifier(token string, client *http.Client) *TelegramNotifier {
	return &TelegramNotifier{token: token, client: client, apiBase: defaultAPIBase}
}

// SetAPIBase overrides the API host, for tests.
func (n *TelegramNotifier) SetAPIBase(base string) {
	n.apiBase = base
}

func (n *TelegramNotifier) Send(ctx context.Context, user *models.User, listing *models.Listing) error {
	text := FormatListing(listing)

	method := "sendMessage"
	payload := map[string]any{
		"chat_id":    user.ID,
		"parse_mode": "HTML",
	}
	if listing.Image != nil && *listing.Image != "" {
		method = "sendPhoto"
		payload["photo"] = *listing.Image
		payload["caption"] = text
	} else {
		payload["text"] = text
	}

	return n.call(ctx, method, payload)
}

func (n *TelegramNotifier) call(ctx context.Context, method string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/%s", n.apiBase, n.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()

	var result struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("decode %s response: %w", method, err)
	}
	if !result.OK {
		return fmt.Errorf("%s rejected: %s", method, result.Description)
	}
	return nil
}

// FormatListing renders the notification text body.
func FormatListing(listing *models.Listing) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<b>%s</b>\n", html.EscapeString(listing.Title))

	if listing.Price != nil {
		fmt.Fprintf(&b, "%.2f", *listing.Price)
		if listing.MaxPrice != nil && *listing.MaxPrice > *listing.Price {
			fmt.Fprintf(&b, " - %.2f", *listing.MaxPrice)
		}
		if listing.Currency != nil {
			fmt.Fprintf(&b, " %s", *listing.Currency)
		}
		b.WriteString("\n")
	}

	if listing.Description != nil && *listing.Description != "" {
		fmt.Fprintf(&b, "%s\n", html.EscapeString(*listing.Description))
	}

	fmt.Fprintf(&b, `<a href="%s">Open listing</a>`, listing.URL)
	return b.String()
}
