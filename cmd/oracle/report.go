package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/anonymous-cmd-os/palmistry/internal/oracle"
)

const reportWidth = 80

var (
	titleStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#FCD34D")).
		Background(lipgloss.Color("#1E1B4B")).
		Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("#7C3AED")).
		Padding(0, 1).
		Width(reportWidth)

	headingStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#C4B5FD"))

	labelStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#FBBF24"))

	hindiStyle = lipgloss.NewStyle().
		Italic(true).
		Foreground(lipgloss.Color("#A5B4FC"))

	positiveStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981"))
	negativeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#F87171"))

	subtleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#9CA3AF"))

	errorStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#EF4444"))
)

// renderReport lays out every section of a reading for the terminal.
func renderReport(r oracle.Result) string {
	var sections []string

	header := titleStyle.Render(fmt.Sprintf("%s · %s", r.ZodiacSign.Primary(), r.Element.Primary()))
	if hi := joinNonEmpty(" · ", r.ZodiacSign.Secondary(), r.Element.Secondary()); hi != "" {
		header += "\n" + hindiStyle.Render(hi)
	}
	header += "\n" + subtleStyle.Render("Birth Date: "+r.DateOfBirth)
	sections = append(sections, header)

	sections = append(sections, section("The Soul's Essence",
		labelled("Personality", r.Personality),
		labelled("Behaviour", r.Behavior),
	))
	sections = append(sections, section("Lines of Fate",
		labelled("Heart Line", r.PalmAnalysis.HeartLine),
		labelled("Head Line", r.PalmAnalysis.HeadLine),
		labelled("Life Line", r.PalmAnalysis.LifeLine),
		labelled("Fate Line", r.PalmAnalysis.FateLine),
		labelled("Mounts", r.PalmAnalysis.Mounts),
	))
	sections = append(sections, section("Cosmic Alignments",
		labelled("Love & Relationships", r.LoveLife),
		labelled("Career & Ambition", r.Career),
	))
	sections = append(sections, section("Strengths & Challenges",
		bulletList(positiveStyle.Render("Strengths"), "+", r.Strengths),
		bulletList(negativeStyle.Render("Challenges"), "-", r.Challenges),
	))
	sections = append(sections, section("Maharishi's Verdict & Remedies", bilingual(r.SpiritualGuidance)))

	return strings.Join(sections, "\n")
}

func renderFailure() string {
	return errorStyle.Render("The Stars Are Clouded") + "\n" + oracle.GenericFailureMessage
}

func section(title string, parts ...string) string {
	body := headingStyle.Render(title) + "\n" + strings.Join(parts, "\n\n")
	return sectionStyle.Render(body)
}

func labelled(label string, value oracle.Bilingual) string {
	return labelStyle.Render(label) + "\n" + bilingual(value)
}

// bilingual prints the English segment and, when present, the Hindi one beneath it.
func bilingual(value oracle.Bilingual) string {
	primary, secondary := value.Split()
	if secondary == "" {
		return primary
	}
	return primary + "\n" + hindiStyle.Render(secondary)
}

func bulletList(title, marker string, items []oracle.Bilingual) string {
	lines := []string{title}
	for _, item := range items {
		lines = append(lines, marker+" "+strings.ReplaceAll(bilingual(item), "\n", "\n  "))
	}
	return strings.Join(lines, "\n")
}

func joinNonEmpty(sep string, values ...string) string {
	var out []string
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return strings.Join(out, sep)
}
