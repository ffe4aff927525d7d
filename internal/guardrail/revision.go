package guardrail

import (
	"fmt"
	"strings"
)

// BuildRevisionPrompt renders the exact instruction handed back to the
// implementer after a failed validation. The text embeds the original task,
// the full error list and the warnings, and demands a complete corrected
// manifest (not an incremental patch).
func BuildRevisionPrompt(taskDescription string, res ValidationResult) string {
	var b strings.Builder
	b.WriteString("Your previous output failed validation and must be regenerated.\n\n")
	b.WriteString("Original task:\n")
	b.WriteString(strings.TrimSpace(taskDescription))
	b.WriteString("\n\nValidation errors (each must be fixed):\n")
	for i, e := range res.Errors {
		fmt.Fprintf(&b, "%d. %s\n", i+1, e)
	}
	if len(res.Warnings) > 0 {
		b.WriteString("\nWarnings (address if possible):\n")
		for i, w := range res.Warnings {
			fmt.Fprintf(&b, "%d. %s\n", i+1, w)
		}
	}
	b.WriteString("\nRegenerate the COMPLETE corrected file manifest. ")
	b.WriteString("Emit every file again using FILE: <path> blocks, with no prose outside the blocks.")
	return b.String()
}
