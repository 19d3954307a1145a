// Package prompt renders model prompts from context and events.
// Composition is a pure function of its inputs: identical context and
// event always yield byte-identical output, which is what makes
// reprocessing a redelivered event safe and the composer testable.
package prompt

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"apexwatch/internal/models"
)

const systemFraming = `You are an AI analyst for cryptocurrency token monitoring.
Your task is to analyze events related to token activity (price changes, large transfers, news, etc.)
and provide insights on potential impacts, risks, and market implications.
Be concise, analytical, and focus on actionable insights.`

const analysisInstructions = `Analyze this event in the context of previous information. Provide insights on:
1. Immediate impact on token value/sentiment
2. Potential risks or opportunities
3. Recommended monitoring focus areas`

// summaryKeep is how much of a summarized segment survives budget
// trimming before the segment is dropped outright.
const summaryKeep = 280

// Composer builds prompts under a fixed character budget.
type Composer struct {
	budget int
}

// New returns a composer with the given character budget. Budgets at or
// below zero disable trimming.
func New(budget int) *Composer {
	return &Composer{budget: budget}
}

// Compose renders the full model prompt: system framing, context
// segments oldest first, then the new event. When the result would
// exceed the budget, older segments are summarized and then dropped,
// oldest first; the event section is never trimmed.
func (c *Composer) Compose(ctx models.Context, event models.Event) (string, error) {
	eventSection, err := RenderEvent(event)
	if err != nil {
		return "", err
	}

	head := systemFraming + "\n"
	tail := "\nNew Event:\n" + eventSection + "\n" + analysisInstructions + "\n"

	segments := renderSegments(ctx)
	fixed := len(head) + len(tail) + len("\nPrevious Context:\n")

	if c.budget > 0 {
		segments = trimToBudget(segments, c.budget-fixed)
	}

	var b strings.Builder
	b.WriteString(head)
	if len(segments) > 0 {
		b.WriteString("\nPrevious Context:\n")
		for _, s := range segments {
			b.WriteString(s)
			b.WriteString("\n")
		}
	}
	b.WriteString(tail)
	return b.String(), nil
}

// renderSegments serializes context segments in stored order (oldest
// refreshed content first within the rolling trail).
func renderSegments(ctx models.Context) []string {
	out := make([]string, 0, len(ctx.Segments))
	for _, seg := range ctx.Segments {
		if seg.Content == "" {
			continue
		}
		out = append(out, fmt.Sprintf("[%s, as of %s]\n%s",
			seg.Kind, seg.RefreshedAt.UTC().Format("2006-01-02 15:04:05"), seg.Content))
	}
	return out
}

// trimToBudget shrinks the rendered segments to fit. First pass
// summarizes oldest segments down to a short head; second pass drops
// them entirely, still oldest first.
func trimToBudget(segments []string, budget int) []string {
	if budget <= 0 {
		return nil
	}

	total := func() int {
		n := 0
		for _, s := range segments {
			n += len(s) + 1
		}
		return n
	}

	for i := 0; i < len(segments) && total() > budget; i++ {
		if len(segments[i]) > summaryKeep {
			keep := summaryKeep
			for keep > 0 && !utf8.RuneStart(segments[i][keep]) {
				keep--
			}
			segments[i] = segments[i][:keep] + "... (summarized)"
		}
	}

	for len(segments) > 0 && total() > budget {
		segments = segments[1:]
	}

	return segments
}

// RenderEvent renders the event's structured payload as readable text.
// The switch is exhaustive over the event kinds the engine accepts.
func RenderEvent(event models.Event) (string, error) {
	payload, err := event.DecodePayload()
	if err != nil {
		return "", models.NewValidationError(fmt.Sprintf("cannot render %s payload: %v", event.Kind, err))
	}

	switch p := payload.(type) {
	case models.WalletTransferPayload:
		return fmt.Sprintf(`Large wallet transfer detected:
- From: %s
- To: %s
- Amount: %g tokens
- Transaction: %s`, orUnknown(p.FromAddress), orUnknown(p.ToAddress), p.Amount, orUnknown(p.TxHash)), nil

	case models.PriceChangePayload:
		return fmt.Sprintf(`Significant price change detected:
- Exchange: %s
- Previous Price: $%g
- New Price: $%g
- Change: %g%%
- Volume: %g`, orUnknown(p.Exchange), p.OldPrice, p.NewPrice, p.ChangePercent, p.Volume), nil

	case models.VolumeSpikePayload:
		return fmt.Sprintf(`Trading volume spike detected:
- Exchange: %s
- Previous Volume: %g
- New Volume: %g
- Increase: %g%%`, orUnknown(p.Exchange), p.OldVolume, p.NewVolume, p.IncreasePercent), nil

	case models.NewsUpdatePayload:
		return fmt.Sprintf(`Relevant news article detected:
- Title: %s
- Source: %s
- Summary: %s
- Relevance Score: %g
- Sentiment: %g`, orUnknown(p.Title), orUnknown(p.Source), orUnknown(p.Summary), p.RelevanceScore, p.SentimentScore), nil

	default:
		return "", models.NewValidationError(fmt.Sprintf("unknown event kind %q", event.Kind))
	}
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
