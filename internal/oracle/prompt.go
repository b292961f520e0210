package oracle

import (
	_ "embed"
	"fmt"
	"strings"
)

//go:embed prompts/system_instruction.txt
var systemInstruction string

// SystemInstruction returns the fixed persona and schema instruction sent with every reading.
func SystemInstruction() string {
	return systemInstruction
}

// ReadingPrompt builds the per-reading text part. The date is passed through verbatim.
func ReadingPrompt(dateOfBirth string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "User Date of Birth: %s.\n", dateOfBirth)
	b.WriteString("Images: Left Hand (Past/Potential) and Right Hand (Present/Karma).\n\n")
	b.WriteString("Compare Western vs Indian Vedic Astrology.\n")
	b.WriteString("Give the final verdict based on Indian Vedic Astrology (most accurate).\n")
	b.WriteString("Output strictly in Bilingual format: \"English ||| Hindi\".\n")
	b.WriteString("Return ONLY valid JSON.")
	return b.String()
}
