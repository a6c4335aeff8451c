package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"mealvoice/dailylog"
)

type doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client posts meal notifications to a Slack-compatible incoming webhook.
type Client struct {
	webhookURL string
	httpClient doer
}

func NewClient(webhookURL string, httpClient doer) *Client {
	return &Client{
		webhookURL: webhookURL,
		httpClient: httpClient,
	}
}

// TextObject is a Slack text composition object.
type TextObject struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Block is one Slack layout block. Only header, section and context blocks are produced.
type Block struct {
	Type     string       `json:"type"`
	Text     *TextObject  `json:"text,omitempty"`
	Fields   []TextObject `json:"fields,omitempty"`
	Elements []TextObject `json:"elements,omitempty"`
}

// Message is the webhook payload. Text is the fallback shown in
// notifications when Blocks are present.
type Message struct {
	Channel string  `json:"channel,omitempty"`
	Text    string  `json:"text"`
	Blocks  []Block `json:"blocks,omitempty"`
}

// PostMessage sends a plain text message.
func (c *Client) PostMessage(ctx context.Context, channel string, message string) error {
	return c.Post(ctx, Message{Channel: channel, Text: message})
}

// PostSummary sends the day's log as a block message with a text fallback.
func (c *Client) PostSummary(ctx context.Context, channel string, log dailylog.DailyLog) error {
	msg := SummaryMessage(log)
	msg.Channel = channel
	return c.Post(ctx, msg)
}

func (c *Client) Post(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("notify: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("notify: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("notify: post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("notify: webhook returned %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	return nil
}

var mealOrder = []dailylog.MealType{dailylog.Breakfast, dailylog.Lunch, dailylog.Dinner, dailylog.Snack}

// SummaryMessage builds the block layout for a day's log: a header, a
// calories and macros section, and one context line per meal.
func SummaryMessage(log dailylog.DailyLog) Message {
	t := log.TotalNutrition
	blocks := []Block{
		{Type: "header", Text: &TextObject{Type: "plain_text", Text: "Meals for " + log.Date}},
		{Type: "section", Fields: []TextObject{
			{Type: "mrkdwn", Text: "*Calories*\n" + calorieLine(log)},
			{Type: "mrkdwn", Text: fmt.Sprintf("*Macros*\nP %.1fg · C %.1fg · F %.1fg", t.Protein, t.Carbs, t.Fat)},
		}},
	}
	for _, line := range mealLines(log) {
		blocks = append(blocks, Block{Type: "context", Elements: []TextObject{{Type: "mrkdwn", Text: line}}})
	}
	return Message{Text: MealSummary(log), Blocks: blocks}
}

// MealSummary renders the day's log as plain text.
func MealSummary(log dailylog.DailyLog) string {
	t := log.TotalNutrition
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", log.Date, calorieLine(log))
	fmt.Fprintf(&b, "\nprotein %.1fg, carbs %.1fg, fat %.1fg", t.Protein, t.Carbs, t.Fat)

	lines := mealLines(log)
	if len(lines) == 0 {
		b.WriteString("\nnothing logged yet")
	}
	for _, l := range lines {
		b.WriteString("\n" + l)
	}
	return b.String()
}

func calorieLine(log dailylog.DailyLog) string {
	line := fmt.Sprintf("%.0f kcal", log.TotalNutrition.Calories)
	if log.CalorieGoal <= 0 {
		return line
	}
	rem := log.Remaining()
	if rem < 0 {
		return line + fmt.Sprintf(" of %d (%.0f over)", log.CalorieGoal, -rem)
	}
	return line + fmt.Sprintf(" of %d (%.0f left)", log.CalorieGoal, rem)
}

func mealLines(log dailylog.DailyLog) []string {
	byMeal := log.ByMeal()
	var lines []string
	for _, mt := range mealOrder {
		n, ok := byMeal[mt]
		if !ok {
			continue
		}
		var names []string
		for _, e := range log.Entries {
			if e.MealType == mt {
				names = append(names, e.FoodItem.Name)
			}
		}
		lines = append(lines, fmt.Sprintf("%s: %.0f kcal (%s)", mt, n.Calories, strings.Join(names, ", ")))
	}
	return lines
}
