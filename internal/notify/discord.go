package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"crypto-manager-go/internal/config"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

const (
	colorGreen = 0x00ff00
	colorRed   = 0xff0000

	footerAlerts  = "Crypto Manager Alert System"
	footerTrading = "Crypto Manager Trading System"
)

// Embed is a Discord rich embed.
type Embed struct {
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Color       int          `json:"color"`
	Timestamp   string       `json:"timestamp"`
	Fields      []EmbedField `json:"fields,omitempty"`
	Thumbnail   *EmbedMedia  `json:"thumbnail,omitempty"`
	Footer      *EmbedFooter `json:"footer,omitempty"`
}

// EmbedField is one name/value row of an embed.
type EmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type EmbedMedia struct {
	URL string `json:"url"`
}

type EmbedFooter struct {
	Text string `json:"text"`
}

type webhookPayload struct {
	Content string  `json:"content,omitempty"`
	Embeds  []Embed `json:"embeds,omitempty"`
}

// DiscordWebhook posts notifications to a Discord webhook.
type DiscordWebhook struct {
	client    *resty.Client
	url       string
	thumbnail string
	logger    *zap.Logger
	now       func() time.Time
}

var _ Notifier = (*DiscordWebhook)(nil)

// NewDiscordWebhook creates a webhook sink. An empty URL yields a sink that
// logs and reports failure on every send.
func NewDiscordWebhook(cfg *config.Discord, logger *zap.Logger) *DiscordWebhook {
	return &DiscordWebhook{
		client:    resty.New().SetTimeout(10 * time.Second),
		url:       cfg.WebhookURL,
		thumbnail: cfg.Thumbnail,
		logger:    logger.Named("discord"),
		now:       time.Now,
	}
}

// SendMessage sends a plain text message.
func (d *DiscordWebhook) SendMessage(ctx context.Context, text string) bool {
	return d.send(ctx, webhookPayload{Content: text})
}

// SendEmbed sends a single embed, filling in the timestamp and thumbnail.
func (d *DiscordWebhook) SendEmbed(ctx context.Context, embed Embed) bool {
	embed.Timestamp = d.now().UTC().Format(time.RFC3339)
	if d.thumbnail != "" && embed.Thumbnail == nil {
		embed.Thumbnail = &EmbedMedia{URL: d.thumbnail}
	}
	return d.send(ctx, webhookPayload{Embeds: []Embed{embed}})
}

// SendAlert sends a price alert embed.
func (d *DiscordWebhook) SendAlert(ctx context.Context, market string, price float64, kind string, threshold float64) bool {
	return d.SendEmbed(ctx, alertEmbed(market, price, kind, threshold, d.now()))
}

// SendTrade sends an order placement embed.
func (d *DiscordWebhook) SendTrade(ctx context.Context, side, market string, price, quantity, total float64, orderID string) bool {
	return d.SendEmbed(ctx, tradeEmbed(side, market, price, quantity, total, orderID, d.now()))
}

func alertEmbed(market string, price float64, kind string, threshold float64, now time.Time) Embed {
	high := strings.EqualFold(kind, "high")
	color, direction := colorRed, "⬇️ Price Below Threshold"
	if high {
		color, direction = colorGreen, "⬆️ Price Above Threshold"
	}
	return Embed{
		Title:       fmt.Sprintf("🚨 PRICE ALERT: %s", market),
		Description: fmt.Sprintf("**Current Price**: %v\n**Threshold**: %v", price, threshold),
		Color:       color,
		Fields: []EmbedField{
			{Name: "Alert Type", Value: direction, Inline: true},
			{Name: "Time", Value: now.UTC().Format("2006-01-02 15:04:05 UTC"), Inline: true},
		},
		Footer: &EmbedFooter{Text: footerAlerts},
	}
}

func tradeEmbed(side, market string, price, quantity, total float64, orderID string, now time.Time) Embed {
	color, title := colorRed, "🔴 SELL ORDER"
	if strings.EqualFold(side, "buy") {
		color, title = colorGreen, "🟢 BUY ORDER"
	}
	return Embed{
		Title:       fmt.Sprintf("%s: %s", title, market),
		Description: fmt.Sprintf("**Price**: %v\n**Quantity**: %v\n**Total**: %v", price, quantity, total),
		Color:       color,
		Fields: []EmbedField{
			{Name: "Order ID", Value: orderID, Inline: false},
			{Name: "Time", Value: now.UTC().Format("2006-01-02 15:04:05 UTC"), Inline: true},
		},
		Footer: &EmbedFooter{Text: footerTrading},
	}
}

func (d *DiscordWebhook) send(ctx context.Context, payload webhookPayload) bool {
	if err := d.post(ctx, payload); err != nil {
		d.logger.Error("Failed to send Discord notification", zap.Error(err))
		return false
	}
	d.logger.Debug("Discord notification sent", zap.String("content", summary(payload)))
	return true
}

func (d *DiscordWebhook) post(ctx context.Context, payload webhookPayload) error {
	if d.url == "" {
		return &NotificationError{Sink: "discord", Err: ErrDisabled}
	}
	resp, err := d.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(payload).
		Post(d.url)
	if err != nil {
		return &NotificationError{Sink: "discord", Err: err}
	}
	if resp.IsError() {
		return &NotificationError{Sink: "discord", Err: fmt.Errorf("status %s: %s", resp.Status(), resp.String())}
	}
	return nil
}

func summary(p webhookPayload) string {
	if p.Content != "" {
		return p.Content
	}
	if len(p.Embeds) > 0 {
		return p.Embeds[0].Title
	}
	return "Embed"
}
