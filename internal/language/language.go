// Package language normalizes the transcription language values tenants
// put in their processing templates. Tenants write whatever their source
// system exports ("en", "eng", "English"); the transcriber CLI wants
// ISO 639-1.
package language

import "strings"

type entry struct {
	code2   string
	code3   string
	alt3    string
	display string
	word    string
}

var languages = []entry{
	{"en", "eng", "", "English", "english"},
	{"es", "spa", "", "Spanish", "spanish"},
	{"fr", "fra", "fre", "French", "french"},
	{"de", "deu", "ger", "German", "german"},
	{"it", "ita", "", "Italian", "italian"},
	{"pt", "por", "", "Portuguese", "portuguese"},
	{"ja", "jpn", "", "Japanese", "japanese"},
	{"ko", "kor", "", "Korean", "korean"},
	{"zh", "zho", "chi", "Chinese", "chinese"},
	{"ru", "rus", "", "Russian", "russian"},
	{"ar", "ara", "", "Arabic", "arabic"},
	{"hi", "hin", "", "Hindi", "hindi"},
	{"nl", "nld", "dut", "Dutch", "dutch"},
	{"pl", "pol", "", "Polish", "polish"},
	{"sv", "swe", "", "Swedish", "swedish"},
	{"da", "dan", "", "Danish", "danish"},
	{"no", "nor", "", "Norwegian", "norwegian"},
	{"fi", "fin", "", "Finnish", "finnish"},
}

var byAlias map[string]*entry

func init() {
	byAlias = make(map[string]*entry, len(languages)*4)
	for i := range languages {
		e := &languages[i]
		byAlias[e.code2] = e
		byAlias[e.code3] = e
		if e.alt3 != "" {
			byAlias[e.alt3] = e
		}
		byAlias[e.word] = e
	}
}

func lookup(code string) *entry {
	return byAlias[strings.ToLower(strings.TrimSpace(code))]
}

// Normalize maps a recognized language code or word to ISO 639-1.
// Unrecognized non-empty input passes through lowercased so an exotic
// code a tenant knows their transcriber accepts is not discarded.
// Empty input stays empty, which means auto-detect.
func Normalize(code string) string {
	trimmed := strings.ToLower(strings.TrimSpace(code))
	if trimmed == "" {
		return ""
	}
	if e := lookup(trimmed); e != nil {
		return e.code2
	}
	return trimmed
}

// ToISO2 converts a recognized language code or word to ISO 639-1.
// Returns the empty string for unrecognized input, except that unknown
// 2-letter codes pass through.
func ToISO2(code string) string {
	trimmed := strings.ToLower(strings.TrimSpace(code))
	if trimmed == "" {
		return ""
	}
	if e := lookup(trimmed); e != nil {
		return e.code2
	}
	if len(trimmed) == 2 {
		return trimmed
	}
	return ""
}

// DisplayName returns a human-readable name for a recognized code,
// "Auto-detect" for empty input, and the uppercased code otherwise.
func DisplayName(code string) string {
	trimmed := strings.TrimSpace(code)
	if trimmed == "" {
		return "Auto-detect"
	}
	if e := lookup(trimmed); e != nil {
		return e.display
	}
	return strings.ToUpper(trimmed)
}
