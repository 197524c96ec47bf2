package rag

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WessleyAI/thrifter/engine/domain"
	"github.com/WessleyAI/thrifter/pkg/openai"
)

type fakeLLM struct {
	reply string
	err   error
	last  openai.Completion
	calls int
}

func (f *fakeLLM) Complete(_ context.Context, req openai.Completion) (string, error) {
	f.calls++
	f.last = req
	return f.reply, f.err
}

func results() []domain.FusedResult {
	return []domain.FusedResult{
		{Shop: &domain.Shop{Name: "EcoDhaga", Tag: "Vintage & Sustainable", Description: "Curated vintage pieces.",
			Location: domain.Location{ID: "koramangala", Label: "Koramangala"}, Rating: domain.Float(4.5)},
			Reasons: []string{"in Koramangala", "matches vintage style"}},
		{Shop: &domain.Shop{Name: "Tibet Mall Surplus", Location: domain.Location{ID: "central"}}},
		{Shop: &domain.Shop{Name: "Bombay Store Surplus"}},
		{Shop: &domain.Shop{Name: "Fourth"}},
	}
}

func TestTemplateAnswer(t *testing.T) {
	tests := []struct {
		intent Intent
		want   string
	}{
		{IntentFindStore, "I'd recommend checking out: EcoDhaga, Tibet Mall Surplus, Bombay Store Surplus. They're located in Koramangala"},
		{IntentBudget, "For budget-friendly options, try: EcoDhaga, Tibet Mall Surplus, Bombay Store Surplus."},
		{IntentRecommendation, "I'd highly recommend **EcoDhaga** in Koramangala. Curated vintage pieces. They're particularly good for in Koramangala, matches vintage style."},
		{IntentGeneral, "EcoDhaga (Koramangala); Tibet Mall Surplus (Commercial Street); Bombay Store Surplus (Bangalore)."},
	}
	for _, tt := range tests {
		t.Run(string(tt.intent), func(t *testing.T) {
			got := TemplateAnswer(results(), Analysis{Intent: tt.intent})
			assert.Contains(t, got, tt.want)
			assert.NotContains(t, got, "Fourth")
		})
	}
}

func TestFallbackAnswer(t *testing.T) {
	assert.Contains(t, FallbackAnswer(Analysis{Locations: []string{"hsr-layout"}}), "exact matches in HSR Layout")
	assert.Contains(t, FallbackAnswer(Analysis{Styles: []string{"grunge"}}), "For grunge style")
	assert.True(t, strings.HasPrefix(FallbackAnswer(Analysis{}), "I'd recommend starting with HSR Layout"))
	assert.Equal(t, FallbackAnswer(Analysis{}), TemplateAnswer(nil, Analysis{}))
}

func TestBuildContext(t *testing.T) {
	got := BuildContext(results(), domain.Preferences{Style: []string{"vintage"}}, 2)
	assert.Contains(t, got, "1. **EcoDhaga** (Vintage & Sustainable) - Koramangala")
	assert.Contains(t, got, "Rating: 4.5/5")
	assert.Contains(t, got, "2. **Tibet Mall Surplus**")
	assert.Contains(t, got, "No description")
	assert.NotContains(t, got, "Bombay")
	assert.Contains(t, got, "User style preferences: vintage")
}

func TestComposer_Template(t *testing.T) {
	c := NewComposer(nil, ComposerOptions{}, nil)
	assert.False(t, c.Generative())
	got := c.Compose(context.Background(), "where?", results(), Analysis{Intent: IntentFindStore}, domain.Preferences{})
	assert.Contains(t, got, "checking out: EcoDhaga")
}

func TestComposer_LLM(t *testing.T) {
	llm := &fakeLLM{reply: "Head to EcoDhaga."}
	c := NewComposer(llm, ComposerOptions{}, nil)
	require.True(t, c.Generative())

	got := c.Compose(context.Background(), "vintage in koramangala?", results(), Analysis{}, domain.Preferences{})
	assert.Equal(t, "Head to EcoDhaga.", got)
	assert.Contains(t, llm.last.User, "User's question: vintage in koramangala?")
	assert.Contains(t, llm.last.User, "**EcoDhaga**")
	assert.Contains(t, llm.last.System, "BLR Thrifter")
	assert.Equal(t, DefaultComposerOptions().MaxTokens, llm.last.MaxTokens)
}

func TestComposer_LLMFailureUsesTemplate(t *testing.T) {
	c := NewComposer(&fakeLLM{err: errors.New("rate limited")}, ComposerOptions{}, nil)
	got := c.Compose(context.Background(), "best stores", results(), Analysis{Intent: IntentRecommendation}, domain.Preferences{})
	assert.Contains(t, got, "I'd highly recommend **EcoDhaga**")

	blank := NewComposer(&fakeLLM{reply: "  "}, ComposerOptions{}, nil)
	got = blank.Compose(context.Background(), "best stores", results(), Analysis{Intent: IntentRecommendation}, domain.Preferences{})
	assert.Contains(t, got, "I'd highly recommend **EcoDhaga**")
}

func TestComposer_NoResultsSkipsLLM(t *testing.T) {
	llm := &fakeLLM{reply: "should not be used"}
	c := NewComposer(llm, ComposerOptions{}, nil)
	got := c.Compose(context.Background(), "q", nil, Analysis{}, domain.Preferences{})
	assert.Equal(t, FallbackAnswer(Analysis{}), got)
	assert.Zero(t, llm.calls)
}
