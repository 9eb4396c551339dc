package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// WebhookSink posts events as Slack-compatible attachment payloads. Any
// chat adapter that accepts the same webhook shape (Slack, Mattermost,
// generic incoming-webhook receivers) can sit behind this sink without a
// core code change.
type WebhookSink struct {
	webhookURL string
	client     *http.Client
}

func NewWebhookSink(webhookURL string, timeout time.Duration) *WebhookSink {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &WebhookSink{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: timeout},
	}
}

func (w *WebhookSink) Name() string { return "webhook" }

func (w *WebhookSink) Send(ctx context.Context, event Event) error {
	if w.webhookURL == "" {
		return nil
	}

	color := colorForKind(event.Kind)

	var fields []map[string]interface{}
	for k, v := range event.Payload {
		fields = append(fields, map[string]interface{}{"title": k, "value": v, "short": true})
	}

	body := map[string]interface{}{
		"attachments": []map[string]interface{}{
			{
				"color":   color,
				"pretext": fmt.Sprintf("[%s] bot=%d", event.Kind, event.BotID),
				"text":    event.Message,
				"fields":  fields,
				"ts":      event.Timestamp.Unix(),
				"footer":  "gridbot",
			},
		},
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.webhookURL, bytes.NewBuffer(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("webhook sink: status %d", resp.StatusCode)
	}
	return nil
}

func colorForKind(k Kind) string {
	switch k {
	case KindCredentialError, KindHealthIssue:
		return "#ff0000"
	case KindOrphanRepair, KindBotStopped:
		return "#ffcc00"
	default:
		return "#36a64f"
	}
}
