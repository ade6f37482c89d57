package core_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sachin-iam/sortify/internal/core"
)

type stubRefiner struct {
	name   string
	result *core.Classification
	err    error
	calls  int
}

func (s *stubRefiner) Classify(context.Context, string, string, string) (*core.Classification, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	cloned := *s.result
	return &cloned, nil
}

func (s *stubRefiner) Healthy(context.Context) error { return s.err }
func (s *stubRefiner) Name() string                  { return s.name }

func invoiceCategories() []*core.Category {
	return []*core.Category{
		{Name: "Invoices", Keywords: []string{"invoice", "receipt"}},
		{Name: "Newsletters", Keywords: []string{"unsubscribe"}},
	}
}

func TestClassifyFastSubjectKeyword(t *testing.T) {
	classifier := core.NewClassifier(nil, zap.NewNop())

	result := classifier.ClassifyFast(&core.Message{Subject: "Invoice #412"}, invoiceCategories())

	assert.Equal(t, "Invoices", result.Label)
	assert.Equal(t, core.MethodPhase1Rule, result.Method)
	assert.InDelta(t, 0.5, result.Confidence, 0.001)
	assert.False(t, result.ClassifiedAt.IsZero())
}

func TestClassifyFastNoMatchFallsBack(t *testing.T) {
	classifier := core.NewClassifier(nil, zap.NewNop())

	result := classifier.ClassifyFast(&core.Message{Subject: "Lunch on Friday?"}, invoiceCategories())

	assert.Equal(t, core.FallbackCategoryName, result.Label)
	assert.InDelta(t, 0.1, result.Confidence, 0.001)
}

func TestClassifyFastEmptyMessage(t *testing.T) {
	classifier := core.NewClassifier(nil, zap.NewNop())

	result := classifier.ClassifyFast(&core.Message{}, invoiceCategories())

	assert.Equal(t, core.FallbackCategoryName, result.Label)
}

func TestClassifyFastNoCategories(t *testing.T) {
	classifier := core.NewClassifier(nil, zap.NewNop())

	result := classifier.ClassifyFast(&core.Message{Subject: "Invoice #412"}, nil)

	assert.Equal(t, core.FallbackCategoryName, result.Label)
}

func TestClassifyFastSenderDomain(t *testing.T) {
	classifier := core.NewClassifier(nil, zap.NewNop())
	categories := []*core.Category{
		{Name: "Payments", SenderDomains: []string{"stripe.com"}},
	}

	exact := classifier.ClassifyFast(&core.Message{From: "billing@stripe.com"}, categories)
	assert.Equal(t, "Payments", exact.Label)

	subdomain := classifier.ClassifyFast(&core.Message{From: "billing@pay.stripe.com"}, categories)
	assert.Equal(t, "Payments", subdomain.Label)

	unrelated := classifier.ClassifyFast(&core.Message{From: "no-reply@notstripe.com"}, categories)
	assert.Equal(t, core.FallbackCategoryName, unrelated.Label)
}

func TestClassifyFastSenderNamePattern(t *testing.T) {
	classifier := core.NewClassifier(nil, zap.NewNop())
	categories := []*core.Category{
		{Name: "Banking", SenderNamePatterns: []string{"acme bank"}},
	}

	result := classifier.ClassifyFast(&core.Message{FromName: "ACME Bank Alerts"}, categories)
	assert.Equal(t, "Banking", result.Label)
}

func TestClassifyFastFoldsAccentsAndCase(t *testing.T) {
	classifier := core.NewClassifier(nil, zap.NewNop())
	categories := []*core.Category{
		{Name: "Invoices", Keywords: []string{"factura"}},
	}

	result := classifier.ClassifyFast(&core.Message{Subject: "FÁCTURA pendiente"}, categories)
	assert.Equal(t, "Invoices", result.Label)
}

func TestClassifyFastPicksHighestScore(t *testing.T) {
	classifier := core.NewClassifier(nil, zap.NewNop())
	categories := []*core.Category{
		{Name: "Weak", Keywords: []string{"order"}},
		{Name: "Strong", Keywords: []string{"order"}, SenderDomains: []string{"shop.example"}},
	}
	msg := &core.Message{Subject: "Your order shipped", From: "orders@shop.example"}

	result := classifier.ClassifyFast(msg, categories)
	assert.Equal(t, "Strong", result.Label)
}

// Three messages, one matching the new category: the match gets the label
// with positive confidence and the rest stay on the fallback.
func TestClassifyFastBatchScenario(t *testing.T) {
	classifier := core.NewClassifier(nil, zap.NewNop())
	categories := []*core.Category{{Name: "Invoices", Keywords: []string{"invoice"}}}
	messages := []*core.Message{
		{ID: "m1", Subject: "Invoice #412"},
		{ID: "m2", Subject: "Team offsite"},
		{ID: "m3", Subject: "Re: weekend plans"},
	}

	labels := make(map[string]string)
	for _, msg := range messages {
		result := classifier.ClassifyFast(msg, categories)
		labels[msg.ID] = result.Label
		if msg.ID == "m1" {
			assert.Greater(t, result.Confidence, 0.0)
		}
	}

	assert.Equal(t, "Invoices", labels["m1"])
	assert.Equal(t, core.FallbackCategoryName, labels["m2"])
	assert.Equal(t, core.FallbackCategoryName, labels["m3"])
}

func TestClassifyRefineFallsThroughBackends(t *testing.T) {
	broken := &stubRefiner{name: "broken", err: fmt.Errorf("boom: %w", core.ErrUpstreamUnavailable)}
	working := &stubRefiner{name: "working", result: &core.Classification{
		Label:      "Invoices",
		Confidence: 0.93,
	}}
	classifier := core.NewClassifier([]core.RefineClient{broken, working}, zap.NewNop())

	result, err := classifier.ClassifyRefine(context.Background(), "Invoice #412", "total due", "u1")
	require.NoError(t, err)
	assert.Equal(t, "Invoices", result.Label)
	assert.Equal(t, core.MethodPhase2ML, result.Method)
	assert.Equal(t, 1, broken.calls)
	assert.Equal(t, 1, working.calls)
}

func TestClassifyRefineAllBackendsFail(t *testing.T) {
	broken := &stubRefiner{name: "broken", err: fmt.Errorf("boom: %w", core.ErrUpstreamUnavailable)}
	classifier := core.NewClassifier([]core.RefineClient{broken}, zap.NewNop())

	_, err := classifier.ClassifyRefine(context.Background(), "s", "b", "u1")
	require.ErrorIs(t, err, core.ErrUpstreamUnavailable)
}

func TestClassifyRefineNoBackends(t *testing.T) {
	classifier := core.NewClassifier(nil, zap.NewNop())

	_, err := classifier.ClassifyRefine(context.Background(), "s", "b", "u1")
	require.ErrorIs(t, err, core.ErrUpstreamUnavailable)
}

func TestClassifyRefineClampsConfidence(t *testing.T) {
	refiner := &stubRefiner{name: "hot", result: &core.Classification{Label: "Invoices", Confidence: 1.7}}
	classifier := core.NewClassifier([]core.RefineClient{refiner}, zap.NewNop())

	result, err := classifier.ClassifyRefine(context.Background(), "s", "b", "u1")
	require.NoError(t, err)
	assert.Equal(t, 1.0, result.Confidence)
}

func TestClampConfidence(t *testing.T) {
	assert.Equal(t, 0.0, core.ClampConfidence(-0.5))
	assert.Equal(t, 1.0, core.ClampConfidence(1.5))
	assert.Equal(t, 0.42, core.ClampConfidence(0.42))
}
