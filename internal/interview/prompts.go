package interview

import (
	"fmt"
	"strings"

	"github.com/yourusername/prepstream/internal/generation"
)

const systemPrompt = "You are an expert interview coach. Respond only with a single valid JSON object."

func candidateBrief(gctx generation.Context) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Target role: %s\n", orUnknown(gctx.Role))
	fmt.Fprintf(&b, "Company: %s\n", orUnknown(gctx.Company))
	if gctx.JobDescription != "" {
		fmt.Fprintf(&b, "Job description:\n%s\n", gctx.JobDescription)
	}
	if gctx.Resume != "" {
		fmt.Fprintf(&b, "Candidate resume:\n%s\n", gctx.Resume)
	}
	if existing := gctx.Existing(); len(existing) > 0 {
		fmt.Fprintf(&b, "Do not repeat any of these existing item ids or their subjects: %s\n", strings.Join(existing, ", "))
	}
	if gctx.CustomInstructions != "" {
		fmt.Fprintf(&b, "Additional instructions: %s\n", gctx.CustomInstructions)
	}
	return b.String()
}

func topicsPrompt(_ *Interview, gctx generation.Context, p Params) generation.Prompt {
	return generation.Prompt{
		System: systemPrompt,
		User: candidateBrief(gctx) + fmt.Sprintf(
			`Produce %d study topics as {"items":[{"id":"kebab-case-id","title":"...","content":"markdown explanation","difficulty":"easy|medium|hard"}]}.`,
			p.Count),
	}
}

func mcqsPrompt(_ *Interview, gctx generation.Context, p Params) generation.Prompt {
	return generation.Prompt{
		System: systemPrompt,
		User: candidateBrief(gctx) + fmt.Sprintf(
			`Produce %d multiple choice questions as {"items":[{"id":"kebab-case-id","question":"...","options":["a","b","c","d"],"correctAnswer":0,"explanation":"...","difficulty":"easy|medium|hard"}]}. correctAnswer is the zero-based option index.`,
			p.Count),
	}
}

func rapidFirePrompt(_ *Interview, gctx generation.Context, p Params) generation.Prompt {
	return generation.Prompt{
		System: systemPrompt,
		User: candidateBrief(gctx) + fmt.Sprintf(
			`Produce %d rapid-fire questions with one or two sentence answers as {"items":[{"id":"kebab-case-id","question":"...","answer":"..."}]}.`,
			p.Count),
	}
}

func topicStylePrompt(doc *Interview, gctx generation.Context, p Params) generation.Prompt {
	var title, content string
	if doc != nil {
		if topic, ok := doc.FindTopic(p.TopicID); ok {
			title, content = topic.Title, topic.Content
		}
	}
	return generation.Prompt{
		System: systemPrompt,
		User: candidateBrief(gctx) + fmt.Sprintf(
			"Rewrite the study topic %q in the %q style.\nOriginal content:\n%s\nRespond as {\"content\":\"markdown\"}.",
			title, p.Style, content),
	}
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return "unspecified"
	}
	return s
}
