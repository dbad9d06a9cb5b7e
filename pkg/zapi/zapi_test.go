package zapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSplitTextShortPassesThrough(t *testing.T) {
	got := SplitText("Temos queijo canastra.", 100)
	if len(got) != 1 || got[0] != "Temos queijo canastra." {
		t.Fatalf("chunks = %v", got)
	}
	if got := SplitText("   ", 100); got != nil {
		t.Fatalf("blank text chunks = %v", got)
	}
}

func TestSplitTextPrefersParagraphs(t *testing.T) {
	text := strings.Repeat("a", 50) + "\n\n" + strings.Repeat("b", 50) + "\n\n" + strings.Repeat("c", 50)
	got := SplitText(text, 60)
	if len(got) != 3 {
		t.Fatalf("chunks = %d, want 3: %v", len(got), got)
	}
	for i, want := range []byte{'a', 'b', 'c'} {
		if got[i][0] != want {
			t.Fatalf("chunk %d = %q", i, got[i])
		}
	}
}

func TestSplitTextMergesSmallParagraphs(t *testing.T) {
	got := SplitText("primeira\n\nsegunda\n\nterceira", 100)
	if len(got) != 1 {
		t.Fatalf("chunks = %v, want single merged chunk", got)
	}
	if !strings.Contains(got[0], "primeira\n\nsegunda") {
		t.Fatalf("merged chunk = %q", got[0])
	}
}

func TestSplitTextFallsBackToLinesAndWords(t *testing.T) {
	line := strings.Repeat("palavra ", 30) // ~240 chars, no newlines
	got := SplitText(line, 50)
	if len(got) < 4 {
		t.Fatalf("chunks = %d, want several: %v", len(got), got)
	}
	for _, chunk := range got {
		if len([]rune(chunk)) > 50 {
			t.Fatalf("chunk over limit: %q", chunk)
		}
		if strings.HasPrefix(chunk, " ") || strings.HasSuffix(chunk, " ") {
			t.Fatalf("chunk not trimmed: %q", chunk)
		}
	}
	if strings.Count(strings.Join(got, " "), "palavra") != 30 {
		t.Fatal("words lost while chunking")
	}
}

func TestSplitTextHardCutsGiantWord(t *testing.T) {
	got := SplitText(strings.Repeat("x", 130), 50)
	if len(got) != 3 {
		t.Fatalf("chunks = %d, want 3", len(got))
	}
}

func TestSendTextChunksAndPosts(t *testing.T) {
	var bodies []map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "/instances/inst1/token/tok1/send-text") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		bodies = append(bodies, body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client, err := NewClient(Config{
		InstanceID: "inst1",
		Token:      "tok1",
		BaseURL:    server.URL,
		ChunkLimit: 30,
		ChunkDelay: 1,
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	text := "Primeiro paragrafo.\n\nSegundo paragrafo."
	if err := client.SendText(context.Background(), "5511999", text); err != nil {
		t.Fatalf("SendText: %v", err)
	}
	if len(bodies) != 2 {
		t.Fatalf("posts = %d, want 2", len(bodies))
	}
	if bodies[0]["phone"] != "5511999" {
		t.Fatalf("phone = %v", bodies[0]["phone"])
	}
}

func TestSendTextSurfacesHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client, err := NewClient(Config{InstanceID: "i", Token: "t", BaseURL: server.URL})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if err := client.SendText(context.Background(), "5511999", "oi"); err == nil {
		t.Fatal("HTTP 502 must surface as an error")
	}
}

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient(Config{Token: "t"}); err == nil {
		t.Fatal("missing instance id must fail")
	}
	if _, err := NewClient(Config{InstanceID: "i"}); err == nil {
		t.Fatal("missing token must fail")
	}
}

func TestWebhookToInbound(t *testing.T) {
	raw := `{
		"phone": "5511999",
		"text": {"message": "tem queijo?"},
		"isGroup": false,
		"fromMe": false,
		"momment": 1700000000000,
		"senderName": "Cliente"
	}`
	var payload WebhookPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	msg := payload.ToInbound()
	if msg.CustomerID != "5511999" || msg.Text != "tem queijo?" {
		t.Fatalf("inbound = %+v", msg)
	}
	if msg.FromOperator || msg.GroupMessage {
		t.Fatalf("inbound flags = %+v", msg)
	}
	if msg.MediaType != "text" {
		t.Fatalf("media type = %q", msg.MediaType)
	}
}

func TestWebhookToInboundOperatorImage(t *testing.T) {
	raw := `{
		"phone": "5511999",
		"image": {"imageUrl": "https://cdn/x.jpg", "caption": "segue a foto"},
		"fromMe": true,
		"senderName": "Maria"
	}`
	var payload WebhookPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	msg := payload.ToInbound()
	if !msg.FromOperator || msg.OperatorID != "Maria" {
		t.Fatalf("inbound = %+v", msg)
	}
	if msg.MediaType != "image" || msg.MediaURL != "https://cdn/x.jpg" || msg.Text != "segue a foto" {
		t.Fatalf("inbound = %+v", msg)
	}
}
