package factory

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/sachin-iam/sortify/internal/adapters/mlhttp"
	"github.com/sachin-iam/sortify/internal/adapters/openai"
	"github.com/sachin-iam/sortify/internal/config"
	"github.com/sachin-iam/sortify/internal/core"
)

// RefineFactory creates the ordered list of Phase 2 refine backends
type RefineFactory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewRefineFactory creates a new refine factory
func NewRefineFactory(cfg *config.Config, logger *zap.Logger) *RefineFactory {
	return &RefineFactory{
		cfg:    cfg,
		logger: logger,
	}
}

// CreateRefineClients creates refine backends in the configured fallback
// order. The category service supplies the allowed label set for backends
// that need one.
func (f *RefineFactory) CreateRefineClients(categories *core.CategoryService) ([]core.RefineClient, error) {
	refineConfig := f.cfg.GetRefine()

	clients := make([]core.RefineClient, 0, len(refineConfig.Providers))
	for _, provider := range refineConfig.Providers {
		switch provider {
		case "mlhttp":
			mlConfig := f.cfg.GetMLHTTP()
			timeout, err := f.cfg.GetDuration("mlhttp.timeout")
			if err != nil {
				return nil, fmt.Errorf("invalid mlhttp timeout: %w", err)
			}
			clients = append(clients, mlhttp.NewClient(mlConfig.BaseURL, timeout, f.logger))
		case "openai":
			aiConfig := f.cfg.GetOpenAI()
			names := func(ctx context.Context, userID string) ([]string, error) {
				cats, err := categories.List(ctx, userID)
				if err != nil {
					return nil, err
				}
				out := make([]string, 0, len(cats))
				for _, cat := range cats {
					out = append(out, cat.Name)
				}
				return out, nil
			}
			clients = append(clients, openai.NewClient(
				aiConfig.APIKey,
				aiConfig.ModelName,
				aiConfig.MaxTokens,
				aiConfig.Temperature,
				aiConfig.MaxBodySize,
				names,
				f.logger,
			))
		default:
			return nil, fmt.Errorf("unsupported refine provider: %s", provider)
		}
	}
	return clients, nil
}
