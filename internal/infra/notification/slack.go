package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const maxResponseBody = 1 << 20

// SlackClient posts messages to a Slack incoming webhook.
type SlackClient struct {
	webhookURL string
	channel    string
	httpClient *http.Client
}

// NewSlackClient creates a Slack client. Timeout defaults to 10s.
func NewSlackClient(webhookURL, channel string, timeout time.Duration) (*SlackClient, error) {
	if webhookURL == "" {
		return nil, errors.New("slack webhook URL is required")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &SlackClient{
		webhookURL: webhookURL,
		channel:    channel,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

type slackMessage struct {
	Channel     string            `json:"channel,omitempty"`
	Text        string            `json:"text,omitempty"`
	Attachments []slackAttachment `json:"attachments,omitempty"`
}

type slackBlock struct {
	Type     string         `json:"type"`
	Text     *slackText     `json:"text,omitempty"`
	Elements []slackElement `json:"elements,omitempty"`
	Fields   []slackText    `json:"fields,omitempty"`
}

type slackText struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Emoji bool   `json:"emoji,omitempty"`
}

// slackElement text is an object for buttons and a plain string for context elements.
type slackElement struct {
	Type string `json:"type"`
	Text any    `json:"text,omitempty"`
	URL  string `json:"url,omitempty"`
}

type slackAttachment struct {
	Color  string       `json:"color,omitempty"`
	Blocks []slackBlock `json:"blocks,omitempty"`
}

// Send posts the message. Any non-200 response is an error.
func (c *SlackClient) Send(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(c.buildMessage(msg))
	if err != nil {
		return fmt.Errorf("marshal slack message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send slack message: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack returned status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

func (c *SlackClient) buildMessage(msg Message) slackMessage {
	blocks := make([]slackBlock, 0, 5)

	if msg.Title != "" {
		blocks = append(blocks, slackBlock{
			Type: "header",
			Text: &slackText{Type: "plain_text", Text: SeverityEmoji(msg.Severity) + " " + msg.Title, Emoji: true},
		})
	}
	if msg.Body != "" {
		blocks = append(blocks, slackBlock{
			Type: "section",
			Text: &slackText{Type: "mrkdwn", Text: msg.Body},
		})
	}
	if len(msg.Fields) > 0 {
		fields := make([]slackText, 0, len(msg.Fields))
		for _, f := range msg.Fields {
			fields = append(fields, slackText{Type: "mrkdwn", Text: fmt.Sprintf("*%s:*\n%s", f.Label, f.Value)})
		}
		blocks = append(blocks, slackBlock{Type: "section", Fields: fields})
	}
	if msg.URL != "" {
		blocks = append(blocks, slackBlock{
			Type: "actions",
			Elements: []slackElement{{
				Type: "button",
				Text: &slackText{Type: "plain_text", Text: "View incidents"},
				URL:  msg.URL,
			}},
		})
	}
	if msg.Footer != "" {
		blocks = append(blocks, slackBlock{
			Type:     "context",
			Elements: []slackElement{{Type: "mrkdwn", Text: msg.Footer}},
		})
	}

	return slackMessage{
		Channel:     c.channel,
		Text:        msg.Title,
		Attachments: []slackAttachment{{Color: SeverityColor(msg.Severity), Blocks: blocks}},
	}
}
