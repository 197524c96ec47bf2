package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/WessleyAI/thrifter/engine/domain"
	"github.com/WessleyAI/thrifter/pkg/openai"
	"github.com/WessleyAI/thrifter/pkg/resilience"
)

// Completer is a chat model.
type Completer interface {
	Complete(ctx context.Context, req openai.Completion) (string, error)
}

// ComposerOptions tunes LLM answers.
type ComposerOptions struct {
	MaxTokens   int
	Temperature float32
	// ContextShops bounds how many results are described to the model.
	ContextShops int
}

// DefaultComposerOptions returns sensible defaults.
func DefaultComposerOptions() ComposerOptions {
	return ComposerOptions{MaxTokens: 400, Temperature: 0.7, ContextShops: 5}
}

const systemPrompt = `You are a friendly and knowledgeable assistant for BLR Thrifter, a platform for discovering thrift stores in Bangalore.

Help users find thrift stores that fit their needs. Be concise and specific: mention store names and locations, give practical tips, and say so when you are unsure.

When recommending stores, explain why each one is a good match and mention price ranges or location tips when relevant.`

// Composer turns ranked shops into an answer. Without a model, or when the
// model fails, it answers from templates.
type Composer struct {
	llm     Completer
	breaker *resilience.Breaker
	opts    ComposerOptions
	logger  *slog.Logger
}

// NewComposer creates a Composer. llm may be nil.
func NewComposer(llm Completer, opts ComposerOptions, logger *slog.Logger) *Composer {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultComposerOptions()
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = def.MaxTokens
	}
	if opts.ContextShops <= 0 {
		opts.ContextShops = def.ContextShops
	}
	return &Composer{
		llm:     llm,
		breaker: resilience.NewBreaker(resilience.BreakerOpts{Name: "llm"}),
		opts:    opts,
		logger:  logger.With("component", "rag.composer"),
	}
}

// Generative reports whether answers come from a model.
func (c *Composer) Generative() bool { return c.llm != nil }

// Compose answers question from results. It never fails.
func (c *Composer) Compose(ctx context.Context, question string, results []domain.FusedResult, a Analysis, prefs domain.Preferences) string {
	if len(results) == 0 {
		return FallbackAnswer(a)
	}
	if c.llm == nil {
		return TemplateAnswer(results, a)
	}
	prompt := fmt.Sprintf(`Context about available stores:
%s

User's question: %s

Please provide a helpful answer based on the context. If the stores in context don't match well, say so and give general advice.`,
		BuildContext(results, prefs, c.opts.ContextShops), question)

	answer, err := resilience.Do(c.breaker, ctx, func(ctx context.Context) (string, error) {
		return c.llm.Complete(ctx, openai.Completion{
			System:      systemPrompt,
			User:        prompt,
			MaxTokens:   c.opts.MaxTokens,
			Temperature: c.opts.Temperature,
		})
	})
	if err != nil || strings.TrimSpace(answer) == "" {
		c.logger.Warn("llm answer failed, using template", "error", err)
		return TemplateAnswer(results, a)
	}
	return answer
}

// BuildContext describes up to n results, and the user's preferences, for a prompt.
func BuildContext(results []domain.FusedResult, prefs domain.Preferences, n int) string {
	var b strings.Builder
	b.WriteString("Relevant thrift stores in Bangalore:\n")
	for i, r := range results[:min(n, len(results))] {
		s := r.Shop
		desc := s.Description
		if desc == "" {
			desc = "No description"
		}
		fmt.Fprintf(&b, "\n%d. **%s** (%s) - %s\n   %s\n   Match: %s\n", i+1, s.Name, s.Tag, label(s), desc, reason(r))
		if s.Rating != nil {
			fmt.Fprintf(&b, "   Rating: %.1f/5\n", *s.Rating)
		}
	}
	if len(prefs.Style) > 0 || len(prefs.FavoriteLocations) > 0 {
		fmt.Fprintf(&b, "\nUser style preferences: %s\nPreferred locations: %s\n",
			strings.Join(prefs.Style, ", "), strings.Join(prefs.FavoriteLocations, ", "))
	}
	return b.String()
}

// TemplateAnswer writes an answer for the question's intent without a model.
func TemplateAnswer(results []domain.FusedResult, a Analysis) string {
	if len(results) == 0 {
		return FallbackAnswer(a)
	}
	top := results[:min(3, len(results))]
	names := make([]string, len(top))
	for i, r := range top {
		names[i] = r.Shop.Name
	}
	first := results[0].Shop

	switch a.Intent {
	case IntentFindStore:
		return fmt.Sprintf("For what you're looking for, I'd recommend checking out: %s. They're located in %s and should have what you need!",
			strings.Join(names, ", "), label(first))
	case IntentBudget:
		return fmt.Sprintf("For budget-friendly options, try: %s. These stores are known for affordable prices - expect to find good deals under ₹%d!",
			strings.Join(names, ", "), CheapMax)
	case IntentRecommendation:
		return strings.TrimSpace(fmt.Sprintf("Based on your query, I'd highly recommend **%s** in %s. %s They're particularly good for %s.",
			first.Name, label(first), first.Description, reason(results[0])))
	default:
		parts := make([]string, len(top))
		for i, r := range top {
			parts[i] = fmt.Sprintf("%s (%s)", r.Shop.Name, label(r.Shop))
		}
		return fmt.Sprintf("Here are some stores that might help: %s. Would you like more specific recommendations?", strings.Join(parts, "; "))
	}
}

// FallbackAnswer is given when retrieval finds nothing.
func FallbackAnswer(a Analysis) string {
	if len(a.Locations) > 0 {
		return fmt.Sprintf("I couldn't find exact matches in %s, but I'd suggest exploring HSR Layout or Koramangala - they have the highest concentration of thrift stores in Bangalore!",
			domain.LocationLabel(a.Locations[0]))
	}
	if len(a.Styles) > 0 {
		return fmt.Sprintf("For %s style, check out EcoDhaga in Koramangala or Tibet Mall for imported pieces. Commercial Street also has hidden gems if you're willing to dig!", a.Styles[0])
	}
	return "I'd recommend starting with HSR Layout or Commercial Street - they have the best variety of thrift and surplus stores in Bangalore. Use our search feature to filter by what you're looking for!"
}

func label(s *domain.Shop) string {
	if s.Location.Label != "" {
		return s.Location.Label
	}
	if s.Location.ID != "" {
		return domain.LocationLabel(s.Location.ID)
	}
	return "Bangalore"
}

func reason(r domain.FusedResult) string {
	if len(r.Reasons) == 0 {
		return "relevant"
	}
	return strings.Join(r.Reasons, ", ")
}
