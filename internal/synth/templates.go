package synth

import (
	"regexp"
	"strings"

	"github.com/ppiankov/credence/internal/model"
)

const systemPrompt = `You are a careful assistant for U.S. immigration questions. Use ONLY the documents below to answer.
Cite every fact inline with [n], where n is the number of the document it came from.
If a fact is not present in the documents, explicitly write "Not in sources" for that part.
Do not give legal advice and do not invent statutes, forms or fees.
Return markdown structured as:
**Answer:** (2-4 sentences)
**Key Points:** (3-5 bullets)
**Next Steps:** (up to 3 bullets)`

var feesPattern = regexp.MustCompile(`(?i)\b(fees?|costs?|price|prices|pay|paid|payment|charges?|how much)\b|\$\s?\d`)

var intentInstructions = map[model.Intent]string{
	model.IntentComparison: "Compare the options side by side. Use a markdown table when they differ on more than one point, and cite each cell that states a fact.",
	model.IntentFees:       `State every fee, amount and deadline exactly as the documents give it, with its [n] citation. When an amount cannot be verified from the documents, write "Not in sources" instead of estimating it.`,
	model.IntentProcedural: "Describe the process in the order an applicant would follow it. Cite the document for every form, fee and deadline.",
	model.IntentExplain:    "Explain the concept plainly before going into detail. Cite every fact.",
	model.IntentFollowUp:   "Answer the follow-up in the context of the recent conversation. Cite every fact.",
}

const defaultIntentInstruction = "Give a concise, factual answer. Cite every fact with a bracketed numeric reference."

var formatInstructions = map[model.Format]string{
	model.FormatTable:        "Produce a comparison table and include inline [n] citations.",
	model.FormatShortAnswer:  "Give a concise answer (2-4 sentences) with citations.",
	model.FormatBulletPoints: "Return 3-5 concise bullets with citations.",
	model.FormatStepByStep:   "Return clear numbered steps. Cite sources for factual steps.",
}

// EffectiveIntent returns intent, or IntentFees when a plain question is
// about costs
func EffectiveIntent(query string, intent model.Intent) model.Intent {
	switch intent {
	case "", model.IntentQuestion, model.IntentFollowUp, model.IntentExplain:
		if feesPattern.MatchString(query) {
			return model.IntentFees
		}
	}
	if intent == "" {
		return model.IntentQuestion
	}
	return intent
}

// instructions returns the system prompt for an intent and format
func instructions(intent model.Intent, format model.Format) string {
	var b strings.Builder
	b.WriteString(systemPrompt)
	b.WriteString("\n\n")
	if s, ok := intentInstructions[intent]; ok {
		b.WriteString(s)
	} else {
		b.WriteString(defaultIntentInstruction)
	}
	if s, ok := formatInstructions[format]; ok {
		b.WriteString("\n")
		b.WriteString(s)
	}
	return b.String()
}
