package factory

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/sachin-iam/sortify/internal/adapters/gmail"
	"github.com/sachin-iam/sortify/internal/config"
	"github.com/sachin-iam/sortify/internal/core"
)

// MailboxFactory creates mailbox providers based on configuration
type MailboxFactory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewMailboxFactory creates a new mailbox factory
func NewMailboxFactory(cfg *config.Config, logger *zap.Logger) *MailboxFactory {
	return &MailboxFactory{
		cfg:    cfg,
		logger: logger,
	}
}

// CreateProvider creates a mailbox provider based on the configuration
func (f *MailboxFactory) CreateProvider(ctx context.Context) (core.MailboxProvider, error) {
	mailboxConfig := f.cfg.GetMailbox()

	switch mailboxConfig.Provider {
	case "gmail":
		return gmail.NewProviderFromTokenFile(
			ctx,
			mailboxConfig.TokenFile,
			mailboxConfig.PageSize,
			mailboxConfig.SnippetSize,
			f.logger,
		)
	default:
		return nil, fmt.Errorf("unsupported mailbox provider: %s", mailboxConfig.Provider)
	}
}
