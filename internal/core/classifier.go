package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sachin-iam/sortify/internal/textutil"
)

// Scoring weights for the fast pass. Subject hits outweigh snippet and body
// hits; sender matches outweigh keyword hits.
const (
	subjectWeight      = 3.0
	snippetWeight      = 2.0
	bodyWeight         = 1.0
	senderDomainWeight = 6.0
	senderNameWeight   = 4.0

	// fallbackConfidence is reported when nothing matched and the fallback
	// label is assigned.
	fallbackConfidence = 0.1

	fastModelVersion = "keyword-v1"
)

// Classifier holds the full fallback policy in one place: the local rule pass
// plus an ordered list of refine backends tried in sequence.
type Classifier struct {
	refiners []RefineClient
	logger   *zap.Logger
}

// NewClassifier creates a classifier. The refiner order is the strategy order
// for the ML pass; an empty list disables refinement.
func NewClassifier(refiners []RefineClient, logger *zap.Logger) *Classifier {
	return &Classifier{
		refiners: refiners,
		logger:   logger,
	}
}

// ClampConfidence bounds a confidence score to [0, 1].
func ClampConfidence(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// ClassifyFast labels a message by keyword and sender-pattern scoring against
// the user's categories. Local and deterministic; it never fails. Empty input
// or a scoreless message yields the fallback label with low confidence.
func (c *Classifier) ClassifyFast(msg *Message, categories []*Category) *Classification {
	subject := textutil.Fold(msg.Subject)
	snippet := textutil.Fold(msg.Snippet)
	body := textutil.Fold(msg.Body)
	sender := textutil.Fold(msg.From)
	senderName := textutil.Fold(msg.FromName)

	bestLabel := FallbackCategoryName
	bestScore := 0.0

	for _, cat := range categories {
		score := 0.0
		for _, kw := range cat.Keywords {
			folded := textutil.Fold(strings.TrimSpace(kw))
			if folded == "" {
				continue
			}
			if strings.Contains(subject, folded) {
				score += subjectWeight
			}
			if strings.Contains(snippet, folded) {
				score += snippetWeight
			}
			if strings.Contains(body, folded) {
				score += bodyWeight
			}
		}
		for _, domain := range cat.SenderDomains {
			if matchesDomain(sender, domain) {
				score += senderDomainWeight
			}
		}
		for _, pattern := range cat.SenderNamePatterns {
			folded := textutil.Fold(strings.TrimSpace(pattern))
			if folded != "" && strings.Contains(senderName, folded) {
				score += senderNameWeight
			}
		}
		if score > bestScore {
			bestScore = score
			bestLabel = cat.Name
		}
	}

	confidence := fallbackConfidence
	if bestScore > 0 {
		// Saturates toward 1 as evidence accumulates: one subject keyword
		// hit scores 0.5, a sender-domain match 0.67.
		confidence = ClampConfidence(bestScore / (bestScore + subjectWeight))
	} else {
		bestLabel = FallbackCategoryName
	}

	return &Classification{
		Label:        bestLabel,
		Confidence:   confidence,
		Method:       MethodPhase1Rule,
		ModelVersion: fastModelVersion,
		ClassifiedAt: time.Now(),
	}
}

// ClassifyRefine runs the ML pass, trying each configured backend in order
// and returning the first success. Callers must treat an error as "keep the
// previous classification", never as "assign the fallback".
func (c *Classifier) ClassifyRefine(ctx context.Context, subject, body, userID string) (*Classification, error) {
	if len(c.refiners) == 0 {
		return nil, fmt.Errorf("no refine backend configured: %w", ErrUpstreamUnavailable)
	}

	var lastErr error
	for _, r := range c.refiners {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		result, err := r.Classify(ctx, subject, body, userID)
		if err != nil {
			c.logger.Warn("Refine backend failed",
				zap.String("backend", r.Name()),
				zap.Error(err))
			lastErr = err
			continue
		}
		result.Confidence = ClampConfidence(result.Confidence)
		result.Method = MethodPhase2ML
		if result.ClassifiedAt.IsZero() {
			result.ClassifiedAt = time.Now()
		}
		return result, nil
	}
	return nil, lastErr
}

// RefineHealthy probes the primary refine backend.
func (c *Classifier) RefineHealthy(ctx context.Context) error {
	if len(c.refiners) == 0 {
		return fmt.Errorf("no refine backend configured: %w", ErrUpstreamUnavailable)
	}
	return c.refiners[0].Healthy(ctx)
}

// matchesDomain checks whether the sender address belongs to the domain.
func matchesDomain(sender, domain string) bool {
	folded := textutil.Fold(strings.TrimSpace(domain))
	if folded == "" {
		return false
	}
	at := strings.LastIndex(sender, "@")
	if at < 0 {
		return false
	}
	senderDomain := strings.TrimRight(sender[at+1:], ">")
	return senderDomain == folded || strings.HasSuffix(senderDomain, "."+folded)
}
