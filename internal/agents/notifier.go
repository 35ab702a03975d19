package agents

import (
	"context"
	"fmt"
	"html"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"
	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"

	"github.com/aurachain/orchestrator/internal/llm"
	"github.com/aurachain/orchestrator/internal/metrics"
	"github.com/aurachain/orchestrator/internal/util"
)

// ErrNoOrder is the guardrail failure when no order exists to notify about.
const ErrNoOrder = "Skipped: No order generated to notify about."

const maxEmbedFieldValue = 1024

var notificationColors = map[string]int{
	"info":    3447003,
	"warning": 16776960,
	"alert":   15158332,
	"success": 3066993,
}

// WebhookSender delivers a notification to an external chat channel.
type WebhookSender interface {
	Send(ctx context.Context, content string, embed *discordgo.MessageEmbed) error
}

// DiscordWebhook posts to a Discord webhook URL.
type DiscordWebhook struct {
	session *discordgo.Session
	id      string
	token   string
}

// NewDiscordWebhook parses a https://discord.com/api/webhooks/{id}/{token} URL.
func NewDiscordWebhook(rawURL string, httpClient *http.Client) (*DiscordWebhook, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse webhook url: %w", err)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 3 || parts[len(parts)-3] != "webhooks" {
		return nil, fmt.Errorf("webhook url %q: expected .../webhooks/{id}/{token}", u.Redacted())
	}
	session, err := discordgo.New("")
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	if httpClient != nil {
		session.Client = httpClient
	}
	return &DiscordWebhook{
		session: session,
		id:      parts[len(parts)-2],
		token:   parts[len(parts)-1],
	}, nil
}

// Send executes the webhook.
func (d *DiscordWebhook) Send(ctx context.Context, content string, embed *discordgo.MessageEmbed) error {
	params := &discordgo.WebhookParams{Content: content}
	if embed != nil {
		params.Embeds = []*discordgo.MessageEmbed{embed}
	}
	_, err := d.session.WebhookExecute(d.id, d.token, false, params, discordgo.WithContext(ctx))
	return err
}

// Notifier drafts a short notification and delivers it through the webhook.
// It only runs once an order exists in the request context.
type Notifier struct {
	entry     CatalogEntry
	client    llm.Client
	sender    WebhookSender
	sanitizer *bluemonday.Policy
	logger    *zap.Logger
	now       func() time.Time
}

// NewNotifier creates the notification agent. sender may be nil, in which
// case notifications go to the log only.
func NewNotifier(entry CatalogEntry, client llm.Client, sender WebhookSender, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{
		entry:     entry,
		client:    client,
		sender:    sender,
		sanitizer: bluemonday.StrictPolicy(),
		logger:    logger,
		now:       time.Now,
	}
}

// Process implements Agent.
func (n *Notifier) Process(ctx context.Context, req Request) (Response, error) {
	orderOutput, ok := req.ContextValue(OutputKey(OrderManagerName))
	if !ok {
		n.logger.Warn("Notifier triggered without order output, skipping")
		return NewFailure(NotifierName, ErrNoOrder), nil
	}

	notificationType := strings.ToLower(req.StringParam("type", "info"))
	message := n.draft(ctx, req.Query, notificationType)
	embed := n.embed(notificationType, orderOutput)

	channel := "log"
	if n.sender == nil {
		n.logger.Warn("No Discord webhook configured")
	} else if err := n.sender.Send(ctx, message, embed); err != nil {
		n.logger.Warn("Discord notification failed, falling back to log", zap.Error(err))
	} else {
		channel = "discord"
	}
	if channel == "log" {
		n.logger.Info("Notification", zap.String("type", notificationType), zap.String("message", message))
	}
	metrics.NotificationsSent.WithLabelValues(channel, notificationType).Inc()

	return NewSuccess(NotifierName, map[string]any{
		"message":           message,
		"channel":           channel,
		"sent_at":           n.now().UTC().Format(time.RFC3339Nano),
		"notification_type": notificationType,
	}), nil
}

func (n *Notifier) draft(ctx context.Context, query, notificationType string) string {
	fallback := "Update: " + query
	prompt := fmt.Sprintf(`You are a Supply Chain Notification Bot.

Draft a short, professional %s notification regarding: "%s"

Rules:
- Keep it under 280 characters if possible.
- Use urgency appropriate to the type (%s).
- No markdown formatting in the text body.`, notificationType, query, notificationType)

	resp, err := n.client.Generate(ctx, llm.GenerateRequest{
		Model:       n.entry.Model,
		Prompt:      prompt,
		Temperature: n.entry.Temperature,
		MaxTokens:   150,
	})
	if err != nil {
		n.logger.Warn("Notification draft failed, using fallback", zap.Error(err))
		return fallback
	}
	text := strings.TrimSpace(html.UnescapeString(n.sanitizer.Sanitize(resp.Text)))
	if text == "" {
		return fallback
	}
	return text
}

func (n *Notifier) embed(notificationType string, orderOutput any) *discordgo.MessageEmbed {
	color, ok := notificationColors[notificationType]
	if !ok {
		color = notificationColors["info"]
	}
	embed := &discordgo.MessageEmbed{
		Title:     "Supply Chain " + titleCase(notificationType),
		Color:     color,
		Timestamp: n.now().UTC().Format(time.RFC3339),
	}

	if output, ok := orderOutput.(map[string]any); ok {
		if details, ok := output["order_details"]; ok && !isEmpty(details) {
			value := compactJSON(details)
			embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
				Name:   "Order Details",
				Value:  util.TruncateString(value, maxEmbedFieldValue, false),
				Inline: false,
			})
		}
	}
	return embed
}

func isEmpty(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case map[string]any:
		return len(x) == 0
	case []any:
		return len(x) == 0
	case string:
		return x == ""
	}
	return false
}

func titleCase(s string) string {
	words := strings.Fields(strings.ReplaceAll(s, "_", " "))
	for i, w := range words {
		r, size := utf8.DecodeRuneInString(w)
		words[i] = string(unicode.ToUpper(r)) + w[size:]
	}
	return strings.Join(words, " ")
}
