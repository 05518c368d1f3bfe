package capability

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"
	calendar "google.golang.org/api/calendar/v3"
	drive "google.golang.org/api/drive/v3"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

// TokenProvider supplies per-user OAuth token sources for the Google APIs.
type TokenProvider interface {
	TokenSource(ctx context.Context, userID string) (oauth2.TokenSource, error)
}

// GoogleClientFactory builds per-session capability clients backed by the
// Google Workspace APIs.
type GoogleClientFactory struct {
	tokens TokenProvider
	memory SemanticIndex
}

func NewGoogleClientFactory(tokens TokenProvider, memory SemanticIndex) *GoogleClientFactory {
	return &GoogleClientFactory{tokens: tokens, memory: memory}
}

func (f *GoogleClientFactory) ClientFor(ctx context.Context, userID, userEmail string, cap Capability) (Client, error) {
	ts, err := f.tokens.TokenSource(ctx, userID)
	if err != nil {
		return nil, err
	}

	switch cap {
	case Mail:
		svc, err := gmail.NewService(ctx, option.WithTokenSource(ts))
		if err != nil {
			return nil, fmt.Errorf("failed to build gmail service: %w", err)
		}
		return &MailClient{svc: svc, userID: userID, memory: f.memory}, nil
	case Calendar:
		svc, err := calendar.NewService(ctx, option.WithTokenSource(ts))
		if err != nil {
			return nil, fmt.Errorf("failed to build calendar service: %w", err)
		}
		return &CalendarClient{svc: svc, userID: userID, memory: f.memory}, nil
	case Storage:
		svc, err := drive.NewService(ctx, option.WithTokenSource(ts))
		if err != nil {
			return nil, fmt.Errorf("failed to build drive service: %w", err)
		}
		return &DriveClient{svc: svc, userID: userID, memory: f.memory}, nil
	default:
		return nil, fmt.Errorf("no client for capability %s", cap)
	}
}
