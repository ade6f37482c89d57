package gmail

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/mail"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	gmailapi "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/sachin-iam/sortify/internal/core"
	"github.com/sachin-iam/sortify/internal/textutil"
)

// Provider adapts the Gmail API to the MailboxProvider port. The OAuth
// consent flow happens elsewhere; the provider only consumes a stored token.
type Provider struct {
	svc         *gmailapi.Service
	pageSize    int64
	snippetSize int
	logger      *zap.Logger
}

// NewProvider creates a Gmail provider from an OAuth token source.
func NewProvider(ctx context.Context, ts oauth2.TokenSource, pageSize, snippetSize int, logger *zap.Logger) (*Provider, error) {
	svc, err := gmailapi.NewService(ctx, option.WithTokenSource(ts))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gmail service: %w", err)
	}
	if pageSize <= 0 {
		pageSize = 100
	}
	return &Provider{
		svc:         svc,
		pageSize:    int64(pageSize),
		snippetSize: snippetSize,
		logger:      logger,
	}, nil
}

// NewProviderFromTokenFile creates a Gmail provider from a stored token JSON file.
func NewProviderFromTokenFile(ctx context.Context, tokenFile string, pageSize, snippetSize int, logger *zap.Logger) (*Provider, error) {
	data, err := os.ReadFile(tokenFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read token file: %w", err)
	}
	var token oauth2.Token
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("failed to parse token file: %w", err)
	}
	return NewProvider(ctx, oauth2.StaticTokenSource(&token), pageSize, snippetSize, logger)
}

// ListMessageIDs returns one page of IDs for messages newer than after,
// rendered as a Gmail "after:" search query.
func (p *Provider) ListMessageIDs(ctx context.Context, _ string, after time.Time, pageToken string) ([]string, string, error) {
	call := p.svc.Users.Messages.List("me").MaxResults(p.pageSize).Context(ctx)
	if !after.IsZero() {
		call = call.Q(fmt.Sprintf("after:%d", after.Unix()))
	}
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}

	resp, err := call.Do()
	if err != nil {
		return nil, "", fmt.Errorf("failed to list messages: %w", mapAPIError(err))
	}

	ids := make([]string, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		if m.Id == "" {
			continue
		}
		ids = append(ids, m.Id)
	}
	return ids, resp.NextPageToken, nil
}

// GetMessage fetches one message with full content and maps it to the domain model.
func (p *Provider) GetMessage(ctx context.Context, userID, messageID string) (*core.Message, error) {
	raw, err := p.svc.Users.Messages.Get("me", messageID).Format("full").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch message %s: %w", messageID, mapAPIError(err))
	}

	msg := &core.Message{
		ID:                  raw.Id,
		UserID:              userID,
		Snippet:             raw.Snippet,
		InternalDate:        time.UnixMilli(raw.InternalDate),
		Category:            core.FallbackCategoryName,
		NeedsClassification: true,
		IsFullContentLoaded: true,
	}

	if raw.Payload != nil {
		for _, header := range raw.Payload.Headers {
			switch strings.ToLower(header.Name) {
			case "from":
				msg.From, msg.FromName = parseFrom(header.Value)
			case "subject":
				msg.Subject = header.Value
			}
		}
		msg.Body = extractBody(raw.Payload)
	}
	if msg.Snippet == "" && msg.Body != "" {
		msg.Snippet = textutil.Snippet(msg.Body, p.snippetSize)
	}
	return msg, nil
}

// parseFrom splits a From header into address and display name.
func parseFrom(value string) (address, name string) {
	parsed, err := mail.ParseAddress(value)
	if err != nil {
		return value, ""
	}
	return parsed.Address, parsed.Name
}

// extractBody walks the MIME tree and returns the first text/plain part,
// falling back to text/html, then to the top-level body.
func extractBody(part *gmailapi.MessagePart) string {
	if body := findPart(part, "text/plain"); body != "" {
		return body
	}
	if body := findPart(part, "text/html"); body != "" {
		return body
	}
	return decodePartBody(part.Body)
}

func findPart(part *gmailapi.MessagePart, mimeType string) string {
	if part == nil {
		return ""
	}
	if strings.HasPrefix(part.MimeType, mimeType) {
		if body := decodePartBody(part.Body); body != "" {
			return body
		}
	}
	for _, child := range part.Parts {
		if body := findPart(child, mimeType); body != "" {
			return body
		}
	}
	return ""
}

func decodePartBody(body *gmailapi.MessagePartBody) string {
	if body == nil || body.Data == "" {
		return ""
	}
	decoded, err := base64.URLEncoding.DecodeString(body.Data)
	if err != nil {
		decoded, err = base64.RawURLEncoding.DecodeString(body.Data)
		if err != nil {
			return ""
		}
	}
	return string(decoded)
}

// mapAPIError folds Gmail transport and server errors into the pipeline taxonomy.
func mapAPIError(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		if apiErr.Code == 404 {
			return fmt.Errorf("gmail: %v: %w", apiErr.Message, core.ErrNotFound)
		}
		return fmt.Errorf("gmail status %d: %w", apiErr.Code, core.ErrUpstreamUnavailable)
	}
	return fmt.Errorf("gmail: %v: %w", err, core.ErrUpstreamUnavailable)
}
