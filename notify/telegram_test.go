package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"adwatch/models"
)

type telegramCall struct {
	path    string
	payload map[string]any
}

func telegramServer(t *testing.T, ok bool, calls *[]telegramCall) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		*calls = append(*calls, telegramCall{path: r.URL.Path, payload: payload})

		if ok {
			w.Write([]byte(`{"ok":true,"result":{}}`))
		} else {
			w.Write([]byte(`{"ok":false,"description":"Bad Request: chat not found"}`))
		}
	}))
}

func strPtr(s string) *string { return &s }

func floatPtr(f float64) *float64 { return &f }

func TestSendMessage(t *testing.T) {
	var calls []telegramCall
	server := telegramServer(t, true, &calls)
	defer server.Close()

	notifier := NewTelegramNotifier("TOKEN", server.Client())
	notifier.SetAPIBase(server.URL)

	user := &models.User{ID: 12345}
	listing := &models.Listing{
		Title: "iPhone 13",
		URL:   "https://www.olx.ua/d/obyavlenie/iphone-13-IDabc.html",
	}

	if err := notifier.Send(context.Background(), user, listing); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls))
	}
	call := calls[0]
	if call.path != "/botTOKEN/sendMessage" {
		t.Fatalf("unexpected path %q", call.path)
	}
	if call.payload["chat_id"] != float64(12345) {
		t.Fatalf("unexpected chat_id %v", call.payload["chat_id"])
	}
	if call.payload["parse_mode"] != "HTML" {
		t.Fatalf("unexpected parse_mode %v", call.payload["parse_mode"])
	}
	text, _ := call.payload["text"].(string)
	if !strings.Contains(text, "<b>iPhone 13</b>") {
		t.Fatalf("unexpected text %q", text)
	}
}

func TestSendPhoto(t *testing.T) {
	var calls []telegramCall
	server := telegramServer(t, true, &calls)
	defer server.Close()

	notifier := NewTelegramNotifier("TOKEN", server.Client())
	notifier.SetAPIBase(server.URL)

	listing := &models.Listing{
		Title: "iPhone 13",
		URL:   "https://www.olx.ua/d/obyavlenie/iphone-13-IDabc.html",
		Image: strPtr("https://ireland.apollo.olxcdn.com/v1/files/abc/image"),
	}

	if err := notifier.Send(context.Background(), &models.User{ID: 1}, listing); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	call := calls[0]
	if call.path != "/botTOKEN/sendPhoto" {
		t.Fatalf("unexpected path %q", call.path)
	}
	if call.payload["photo"] != *listing.Image {
		t.Fatalf("unexpected photo %v", call.payload["photo"])
	}
	caption, _ := call.payload["caption"].(string)
	if !strings.Contains(caption, "<b>iPhone 13</b>") {
		t.Fatalf("unexpected caption %q", caption)
	}
	if _, ok := call.payload["text"]; ok {
		t.Fatalf("photo message must not carry a text field")
	}
}

func TestSendRejected(t *testing.T) {
	var calls []telegramCall
	server := telegramServer(t, false, &calls)
	defer server.Close()

	notifier := NewTelegramNotifier("TOKEN", server.Client())
	notifier.SetAPIBase(server.URL)

	listing := &models.Listing{Title: "X", URL: "https://example.com/x"}
	err := notifier.Send(context.Background(), &models.User{ID: 1}, listing)
	if err == nil {
		t.Fatalf("expected an error for a rejected message")
	}
	if !strings.Contains(err.Error(), "chat not found") {
		t.Fatalf("expected the API description in the error, got %v", err)
	}
}

func TestFormatListing(t *testing.T) {
	listing := &models.Listing{
		Title:       "Велосипед <Giant>",
		URL:         "https://shafa.ua/uk/item/1",
		Description: strPtr("Гірський, 29\""),
		Price:       floatPtr(1500),
		MaxPrice:    floatPtr(2000),
		Currency:    strPtr("UAH"),
	}

	got := FormatListing(listing)
	want := "<b>Велосипед &lt;Giant&gt;</b>\n" +
		"1500.00 - 2000.00 UAH\n" +
		"Гірський, 29&#34;\n" +
		`<a href="https://shafa.ua/uk/item/1">Open listing</a>`
	if got != want {
		t.Fatalf("unexpected format:\n got: %q\nwant: %q", got, want)
	}
}

func TestFormatListing_Minimal(t *testing.T) {
	listing := &models.Listing{
		Title: "Плаття",
		URL:   "https://shafa.ua/uk/item/2",
	}

	got := FormatListing(listing)
	want := "<b>Плаття</b>\n" +
		`<a href="https://shafa.ua/uk/item/2">Open listing</a>`
	if got != want {
		t.Fatalf("unexpected format:\n got: %q\nwant: %q", got, want)
	}
}

func TestFormatListing_PriceWithoutRange(t *testing.T) {
	listing := &models.Listing{
		Title:    "Плаття",
		URL:      "https://shafa.ua/uk/item/2",
		Price:    floatPtr(450),
		Currency: strPtr("UAH"),
	}

	got := FormatListing(listing)
	if !strings.Contains(got, "450.00 UAH\n") {
		t.Fatalf("expected a plain price line, got %q", got)
	}
	if strings.Contains(got, " - ") {
		t.Fatalf("expected no range, got %q", got)
	}
}
