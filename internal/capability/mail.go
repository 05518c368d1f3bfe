package capability

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"strings"

	gmail "google.golang.org/api/gmail/v1"
)

const mailSearchLimit = 10

// MailClient executes mail actions against the Gmail API.
type MailClient struct {
	svc    *gmail.Service
	userID string
	memory SemanticIndex
}

func (c *MailClient) Capability() Capability { return Mail }

func (c *MailClient) Execute(ctx context.Context, inv Invocation) (string, error) {
	switch {
	case actionHas(inv.Action, "send"):
		return c.send(ctx, inv)
	case actionHas(inv.Action, "draft"):
		return c.draft(ctx, inv)
	default:
		return c.search(ctx, inv)
	}
}

func (c *MailClient) send(ctx context.Context, inv Invocation) (string, error) {
	msg, to, err := buildMessage(inv)
	if err != nil {
		return "", err
	}

	sent, err := c.svc.Users.Messages.Send("me", msg).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("failed to send email: %w", err)
	}
	log.Printf("Sent email %s to %s", sent.Id, to)
	return fmt.Sprintf("sent email to %s (id %s)", to, sent.Id), nil
}

func (c *MailClient) draft(ctx context.Context, inv Invocation) (string, error) {
	msg, to, err := buildMessage(inv)
	if err != nil {
		return "", err
	}

	draft, err := c.svc.Users.Drafts.Create("me", &gmail.Draft{Message: msg}).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("failed to create draft: %w", err)
	}
	return fmt.Sprintf("created email draft to %s (draft %s)", to, draft.Id), nil
}

// buildMessage assembles the base64url-encoded RFC 2822 message Gmail expects.
func buildMessage(inv Invocation) (*gmail.Message, string, error) {
	to := stringParam(inv.Params, "to", "recipient", "recipient_email", "email")
	if to == "" {
		return nil, "", fmt.Errorf("no recipient address was provided")
	}
	subject := stringParam(inv.Params, "subject")
	body := stringParam(inv.Params, "body", "content", "message")
	if body == "" {
		body = inv.Query
	}

	raw := fmt.Sprintf("To: %s\r\nSubject: %s\r\nContent-Type: text/plain; charset=\"UTF-8\"\r\n\r\n%s", to, subject, body)
	return &gmail.Message{Raw: base64.URLEncoding.EncodeToString([]byte(raw))}, to, nil
}

func (c *MailClient) search(ctx context.Context, inv Invocation) (string, error) {
	query := stringParam(inv.Params, "query", "search")
	if query == "" {
		query = inv.Query
	}

	resp, err := c.svc.Users.Messages.List("me").Q(query).MaxResults(mailSearchLimit).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("failed to search emails: %w", err)
	}

	if len(resp.Messages) == 0 {
		// Fall back to items seen in earlier turns.
		hits, err := c.memory.Search(ctx, c.userID, query, mailSearchLimit)
		if err != nil || len(hits) == 0 {
			return "no emails matched the search", nil
		}
		lines := make([]string, 0, len(hits))
		for _, hit := range hits {
			if hit.Kind == "email" {
				lines = append(lines, hit.Content)
			}
		}
		if len(lines) == 0 {
			return "no emails matched the search", nil
		}
		return fmt.Sprintf("found %d previously seen emails: %s", len(lines), strings.Join(lines, "; ")), nil
	}

	var summaries []string
	for _, ref := range resp.Messages {
		msg, err := c.svc.Users.Messages.Get("me", ref.Id).
			Format("metadata").
			MetadataHeaders("Subject", "From", "Date").
			Context(ctx).Do()
		if err != nil {
			log.Printf("Failed to fetch email %s: %v", ref.Id, err)
			continue
		}

		summary := summarizeEmail(msg)
		summaries = append(summaries, summary)
		c.memory.Index(ctx, c.userID, "email", msg.Id, summary)
	}

	if len(summaries) == 0 {
		return "no emails matched the search", nil
	}
	return fmt.Sprintf("found %d emails: %s", len(summaries), strings.Join(summaries, "; ")), nil
}

func summarizeEmail(msg *gmail.Message) string {
	var subject, from, date string
	if msg.Payload != nil {
		for _, h := range msg.Payload.Headers {
			switch h.Name {
			case "Subject":
				subject = h.Value
			case "From":
				from = h.Value
			case "Date":
				date = h.Value
			}
		}
	}
	return fmt.Sprintf("%q from %s on %s: %s", subject, from, date, msg.Snippet)
}
