// Prompt construction for continuity analysis.

package llm

import (
	"fmt"
	"strings"

	"github.com/ahleung/storylens/model"
)

const continuitySystemPrompt = `You are a fiction continuity analyst. You examine a manuscript scene against what the reader already knows and report continuity problems.

Respond with ONLY a JSON object in this exact format:
{
  "issues": [
    {
      "type": "reference_ambiguity|timeline|character_knowledge|plot_context|engagement|other",
      "severity": "low|medium|high|critical",
      "span": {"start": 0, "end": 0},
      "explanation": "what is wrong and why",
      "evidence": ["verbatim quote from the scene"],
      "suggested_fix": "optional concrete rewrite suggestion",
      "confidence": 0.0
    }
  ],
  "summary": "one-paragraph assessment of the scene's continuity",
  "confidence": 0.0
}

Rules:
- "span" is a character offset range into the scene text; omit it if you cannot locate the problem precisely.
- "evidence" quotes must appear verbatim in the scene.
- Report an empty "issues" array when the scene is clean.
- No markdown fences, no commentary outside the JSON object.`

// BuildMessages constructs the chat messages for a continuity-analysis
// request: system contract, then a single user message carrying prior
// context, the reader-knowledge snapshot and the scene under analysis.
func BuildMessages(req model.AnalysisRequest) []ChatMessage {
	var b strings.Builder

	if len(req.PreviousScenes) > 0 {
		b.WriteString("PRIOR SCENES (oldest first):\n")
		for _, s := range req.PreviousScenes {
			fmt.Fprintf(&b, "--- scene %s (position %d) ---\n%s\n", s.ID, s.Position, s.Text)
		}
		b.WriteString("\n")
	}

	writeKnowledge(&b, req.Knowledge)

	fmt.Fprintf(&b, "ANALYSIS TYPE: %s\n\n", analysisTypeOrDefault(req.AnalysisType))
	fmt.Fprintf(&b, "SCENE UNDER ANALYSIS (id %s, position %d):\n%s\n", req.Scene.ID, req.Scene.Position, req.Scene.Text)

	return []ChatMessage{
		SystemMessage(continuitySystemPrompt),
		UserMessage(b.String()),
	}
}

func writeKnowledge(b *strings.Builder, k model.ReaderKnowledge) {
	sections := []struct {
		title string
		items []string
	}{
		{"Known characters", k.KnownCharacters},
		{"Timeline events so far", k.TimelineEvents},
		{"Revealed plot points", k.RevealedPlotPoints},
		{"Established settings", k.EstablishedSettings},
	}

	any := false
	for _, s := range sections {
		if len(s.items) == 0 {
			continue
		}
		if !any {
			b.WriteString("READER KNOWLEDGE AT THIS POINT:\n")
			any = true
		}
		fmt.Fprintf(b, "%s: %s\n", s.title, strings.Join(s.items, "; "))
	}
	if any {
		b.WriteString("\n")
	}
}

func analysisTypeOrDefault(t model.AnalysisType) model.AnalysisType {
	if t == "" {
		return model.AnalysisConsistency
	}
	return t
}
