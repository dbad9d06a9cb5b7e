// Package zapi is the WhatsApp channel gateway over the Z-API HTTP
// surface: outbound text/image delivery with chunking, and the inbound
// webhook payload shape.
package zapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gmarchetti/balcao/agent/contract"
)

type Config struct {
	InstanceID string        `envconfig:"INSTANCE_ID" split_words:"true" required:"true"`
	Token      string        `envconfig:"TOKEN" split_words:"true" required:"true"`
	BaseURL    string        `envconfig:"BASE_URL" split_words:"true" default:"https://api.z-api.io"`
	Timeout    time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"10s"`
	// ChunkLimit is the longest single message sent; longer responses
	// are split into several messages paced by ChunkDelay so they read
	// like a person typing.
	ChunkLimit int           `envconfig:"CHUNK_LIMIT" split_words:"true" default:"1200"`
	ChunkDelay time.Duration `envconfig:"CHUNK_DELAY" split_words:"true" default:"800ms"`
}

func (c Config) withDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = "https://api.z-api.io"
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.ChunkLimit <= 0 {
		c.ChunkLimit = 1200
	}
	if c.ChunkDelay < 0 {
		c.ChunkDelay = 0
	}
	return c
}

// Client implements contract.Notifier against Z-API.
type Client struct {
	cfg  Config
	http *http.Client
}

var _ contract.Notifier = (*Client)(nil)

func NewClient(cfg Config) (*Client, error) {
	cfg = cfg.withDefaults()
	if strings.TrimSpace(cfg.InstanceID) == "" || strings.TrimSpace(cfg.Token) == "" {
		return nil, fmt.Errorf("%w: zapi instance id and token are required", contract.ErrValidation)
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

func (c *Client) endpoint(name string) string {
	return fmt.Sprintf("%s/instances/%s/token/%s/%s",
		strings.TrimRight(c.cfg.BaseURL, "/"), c.cfg.InstanceID, c.cfg.Token, name)
}

// SendText delivers a text response, splitting it into paced chunks
// when it exceeds the chunk limit.
func (c *Client) SendText(ctx context.Context, customerID, text string) error {
	chunks := SplitText(text, c.cfg.ChunkLimit)
	for i, chunk := range chunks {
		if i > 0 && c.cfg.ChunkDelay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.cfg.ChunkDelay):
			}
		}
		if err := c.post(ctx, "send-text", map[string]any{
			"phone":   customerID,
			"message": chunk,
		}); err != nil {
			return fmt.Errorf("send text chunk %d/%d: %w", i+1, len(chunks), err)
		}
	}
	log.Debug().Str("customer", customerID).Int("chunks", len(chunks)).Msg("text delivered")
	return nil
}

func (c *Client) SendImage(ctx context.Context, customerID, imageURL, caption string) error {
	return c.post(ctx, "send-image", map[string]any{
		"phone":   customerID,
		"image":   imageURL,
		"caption": caption,
	})
}

func (c *Client) post(ctx context.Context, endpoint string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(endpoint), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("zapi %s returned status %d", endpoint, resp.StatusCode)
	}
	return nil
}

// SplitText breaks text into chunks of at most limit runes, preferring
// paragraph breaks, then line breaks, then word boundaries. A single
// word longer than the limit is cut hard.
func SplitText(text string, limit int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if limit <= 0 || len([]rune(text)) <= limit {
		return []string{text}
	}

	var chunks []string
	for _, paragraph := range strings.Split(text, "\n\n") {
		paragraph = strings.TrimSpace(paragraph)
		if paragraph == "" {
			continue
		}
		if len([]rune(paragraph)) <= limit {
			chunks = appendOrMerge(chunks, paragraph, limit, "\n\n")
			continue
		}
		for _, line := range strings.Split(paragraph, "\n") {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if len([]rune(line)) <= limit {
				chunks = appendOrMerge(chunks, line, limit, "\n")
				continue
			}
			chunks = append(chunks, splitWords(line, limit)...)
		}
	}
	return chunks
}

// appendOrMerge packs a unit into the last chunk when it still fits,
// so short paragraphs are not over-fragmented.
func appendOrMerge(chunks []string, unit string, limit int, sep string) []string {
	if n := len(chunks); n > 0 {
		merged := chunks[n-1] + sep + unit
		if len([]rune(merged)) <= limit {
			chunks[n-1] = merged
			return chunks
		}
	}
	return append(chunks, unit)
}

func splitWords(line string, limit int) []string {
	var out []string
	var current strings.Builder
	currentLen := 0

	flush := func() {
		if currentLen > 0 {
			out = append(out, current.String())
			current.Reset()
			currentLen = 0
		}
	}

	for _, word := range strings.Fields(line) {
		wordLen := len([]rune(word))
		if wordLen > limit {
			flush()
			runes := []rune(word)
			for len(runes) > limit {
				out = append(out, string(runes[:limit]))
				runes = runes[limit:]
			}
			if len(runes) > 0 {
				current.WriteString(string(runes))
				currentLen = len(runes)
			}
			continue
		}
		sep := 0
		if currentLen > 0 {
			sep = 1
		}
		if currentLen+sep+wordLen > limit {
			flush()
			sep = 0
		}
		if sep == 1 {
			current.WriteByte(' ')
		}
		current.WriteString(word)
		currentLen += sep + wordLen
	}
	flush()
	return out
}

// WebhookPayload mirrors the Z-API on-message-received shape.
type WebhookPayload struct {
	Phone string `json:"phone"`
	Text  *struct {
		Message string `json:"message"`
	} `json:"text"`
	Image *struct {
		ImageURL string `json:"imageUrl"`
		Caption  string `json:"caption"`
	} `json:"image"`
	Audio *struct {
		AudioURL string `json:"audioUrl"`
	} `json:"audio"`
	IsGroup    bool   `json:"isGroup"`
	FromMe     bool   `json:"fromMe"`
	MessageID  string `json:"messageId"`
	Momment    int64  `json:"momment"`
	SenderName string `json:"senderName"`
}

// ToInbound maps the webhook payload to the pipeline's inbound shape.
// Messages sent by the business number (fromMe) are operator traffic.
func (p WebhookPayload) ToInbound() contract.InboundMessage {
	msg := contract.InboundMessage{
		CustomerID:   p.Phone,
		FromOperator: p.FromMe,
		GroupMessage: p.IsGroup,
		ReceivedAtMS: p.Momment,
		MediaType:    "text",
	}
	if p.FromMe {
		msg.OperatorID = p.SenderName
	}
	switch {
	case p.Text != nil:
		msg.Text = p.Text.Message
	case p.Image != nil:
		msg.Text = p.Image.Caption
		msg.MediaType = "image"
		msg.MediaURL = p.Image.ImageURL
	case p.Audio != nil:
		msg.MediaType = "audio"
		msg.MediaURL = p.Audio.AudioURL
	}
	return msg
}
