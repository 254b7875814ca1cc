package generate

import (
	"fmt"
	"strings"
)

// preferenceSections maps preference keys to their prompt labels, in display
// order. Keys outside this list are not surfaced to the model.
var preferenceSections = []struct {
	key   string
	label string
}{
	{"interests", "Interests"},
	{"favourite foods", "Favorite Foods"},
	{"goals", "Goals"},
	{"daily routine", "Daily Routine"},
}

// buildSystemPrompt renders the assistant persona with the global facts and
// the user-scoped context in separate, clearly delimited sections.
func buildSystemPrompt(req Request) string {
	now := req.Global.Now

	var b strings.Builder
	b.WriteString("You are Sonna, an intelligent and caring AI voice assistant.\n\n")

	b.WriteString("Global Knowledge (Current Real-Time Information):\n")
	fmt.Fprintf(&b, "- Date: %s (%s)\n", now.Format("Monday, January 02, 2006"), now.Format("Monday"))
	fmt.Fprintf(&b, "- Time: %s\n", now.Format("3:04 PM"))
	if req.Global.Location != "" {
		fmt.Fprintf(&b, "- Location: %s\n", req.Global.Location)
	}
	fmt.Fprintf(&b, "- Year: %d\n", now.Year())

	b.WriteString("\nUser-Specific Context:\n")
	b.WriteString(formatUserContext(req.Preferences))

	b.WriteString("\n\nInstructions:\n")
	b.WriteString("- Use the EXACT date and time from Global Knowledge when answering date/time questions\n")
	b.WriteString("- Use the user's interests, goals, and routines to personalize responses\n")
	b.WriteString("- Reference their preferences naturally when relevant\n")
	b.WriteString("- Be concise and natural for voice conversation (under 2 sentences when possible)\n")
	b.WriteString("- Be warm, helpful, and conversational")

	return b.String()
}

// formatUserContext renders the known preference lists, or a placeholder when
// the user has not shared anything yet.
func formatUserContext(preferences map[string]any) string {
	if len(preferences) == 0 {
		return "None specified"
	}

	var parts []string
	for _, section := range preferenceSections {
		values := stringList(preferences[section.key])
		if len(values) == 0 {
			continue
		}
		parts = append(parts, fmt.Sprintf("- %s: %s", section.label, strings.Join(values, ", ")))
	}

	if len(parts) == 0 {
		return "None specified"
	}
	return strings.Join(parts, "\n")
}

// stringList coerces a preference value into a list of strings. Values come
// back from JSON storage as []any, but in-process callers may pass []string.
func stringList(value any) []string {
	switch v := value.(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
