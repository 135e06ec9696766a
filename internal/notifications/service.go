package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"archivist/internal/config"
)

const userAgent = "Archivist-Go/0.1.0"

// Attachment is a file carried with a message. Transports without attachment
// support append nothing.
type Attachment struct {
	Name string
	Data []byte
}

// Message is one notification.
type Message struct {
	To         []string
	Subject    string
	Body       string
	Tags       []string
	Priority   string
	Attachment *Attachment
}

// Notifier delivers messages. Callers treat errors as non-fatal.
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

// NewService builds the notifier selected by cfg. An unconfigured transport
// yields a noop implementation.
func NewService(cfg *config.Config) Notifier {
	n := cfg.Notifications
	timeout := time.Duration(n.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	switch n.Transport {
	case config.TransportNtfy:
		if strings.TrimSpace(n.NtfyTopic) == "" {
			return noopService{}
		}
		return &ntfyService{endpoint: n.NtfyTopic, client: &http.Client{Timeout: timeout}}
	case config.TransportSMTP:
		return &smtpService{addr: n.SMTPAddr, from: n.From, timeout: timeout}
	default:
		return noopService{}
	}
}

type ntfyService struct {
	endpoint string
	client   *http.Client
}

func (n *ntfyService) Send(ctx context.Context, msg Message) error {
	if n == nil || n.client == nil {
		return nil
	}

	body := msg.Body
	if len(msg.To) > 0 {
		body = fmt.Sprintf("%s\n\nTo: %s", body, strings.Join(msg.To, ", "))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(body))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if msg.Subject != "" {
		req.Header.Set("Title", msg.Subject)
	}
	if len(msg.Tags) > 0 {
		req.Header.Set("Tags", strings.Join(msg.Tags, ","))
	}
	if msg.Priority != "" && msg.Priority != "default" {
		req.Header.Set("Priority", msg.Priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) Send(context.Context, Message) error { return nil }
