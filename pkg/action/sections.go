package action

import (
	"regexp"
	"strings"
)

// Reply section names, in the order the model is asked to write them.
const (
	SectionObservation = "Observation"
	SectionThought     = "Thought"
	SectionAction      = "Action"
	SectionSummary     = "Summary"
)

var (
	sectionHeader = regexp.MustCompile(`(?mi)^[ \t*#]*(observation|thought|action|summary)[ \t*]*:`)
	// any capitalized "Word:" at the start of a line ends the current section
	anyHeader = regexp.MustCompile(`(?m)^[ \t*#]*(?:[A-Z][A-Za-z_]*|(?i:observation|thought|action|summary))[ \t*]*:`)
)

// Sections splits a reply into its labelled sections. A section runs from its
// header to the next capitalized "Word:" line or the end of the text.
// Repeated headers keep the first occurrence; missing sections are absent.
func Sections(raw string) map[string]string {
	out := make(map[string]string, 4)
	for _, loc := range sectionHeader.FindAllStringSubmatchIndex(raw, -1) {
		name := canonical(raw[loc[2]:loc[3]])
		if _, seen := out[name]; seen {
			continue
		}
		body := raw[loc[1]:]
		if nl := strings.IndexByte(body, '\n'); nl >= 0 {
			if next := anyHeader.FindStringIndex(body[nl:]); next != nil {
				body = body[:nl+next[0]]
			}
		}
		out[name] = strings.TrimSpace(body)
	}
	return out
}

// ActionText returns the Action section, or the whole reply when there is none.
func ActionText(raw string) string {
	if a := Sections(raw)[SectionAction]; a != "" {
		return a
	}
	return raw
}

// Summary returns the Summary section, or "" when there is none.
func Summary(raw string) string {
	return Sections(raw)[SectionSummary]
}

func canonical(name string) string {
	name = strings.ToLower(name)
	return strings.ToUpper(name[:1]) + name[1:]
}
