// Package topics derives a ranked topic list from a recording's
// transcript.
package topics

import (
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/cases"

	"lectern/internal/transcript"
)

// Topic is one extracted subject with its salience score and the
// timestamp where it first appears.
type Topic struct {
	Label     string  `json:"label"`
	Score     float64 `json:"score"`
	FirstSeen float64 `json:"first_seen"`
}

// Extractor produces topics from a transcript.
type Extractor interface {
	Extract(t *transcript.Transcript, maxTopics int) ([]Topic, error)
}

// FrequencyExtractor ranks terms by occurrence count weighted toward
// words that recur across separate segments rather than clustering in
// one. It carries no model dependency, which keeps the stage usable
// on hosts without an inference runtime.
type FrequencyExtractor struct {
	folder cases.Caser
}

func NewFrequencyExtractor() *FrequencyExtractor {
	return &FrequencyExtractor{folder: cases.Fold()}
}

type termStats struct {
	count     int
	segments  int
	lastSeg   int
	firstSeen float64
}

func (e *FrequencyExtractor) Extract(t *transcript.Transcript, maxTopics int) ([]Topic, error) {
	if maxTopics <= 0 {
		maxTopics = 10
	}
	stats := map[string]*termStats{}
	display := map[string]string{}

	for segIdx, segment := range t.Segments {
		for _, word := range tokenize(segment.Text) {
			folded := e.folder.String(word)
			if len(folded) < 4 || stopwords[folded] {
				continue
			}
			entry, ok := stats[folded]
			if !ok {
				entry = &termStats{firstSeen: segment.Start, lastSeg: -1}
				stats[folded] = entry
				display[folded] = strings.ToLower(word)
			}
			entry.count++
			if entry.lastSeg != segIdx {
				entry.segments++
				entry.lastSeg = segIdx
			}
		}
	}

	topics := make([]Topic, 0, len(stats))
	for term, entry := range stats {
		if entry.count < 2 {
			continue
		}
		score := float64(entry.count) * (1 + float64(entry.segments-1)*0.5)
		topics = append(topics, Topic{
			Label:     display[term],
			Score:     score,
			FirstSeen: entry.firstSeen,
		})
	}
	sort.Slice(topics, func(i, j int) bool {
		if topics[i].Score != topics[j].Score {
			return topics[i].Score > topics[j].Score
		}
		return topics[i].Label < topics[j].Label
	})
	if len(topics) > maxTopics {
		topics = topics[:maxTopics]
	}
	return topics, nil
}

func tokenize(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

// stopwords are common function words excluded from topic ranking.
var stopwords = map[string]bool{
	"about": true, "after": true, "again": true, "also": true, "been": true,
	"before": true, "being": true, "between": true, "both": true, "could": true,
	"does": true, "doing": true, "down": true, "during": true, "each": true,
	"from": true, "further": true, "have": true, "having": true, "here": true,
	"into": true, "just": true, "more": true, "most": true, "only": true,
	"other": true, "over": true, "same": true, "should": true, "some": true,
	"somewhat": true, "such": true, "than": true, "that": true, "their": true,
	"them": true, "then": true, "there": true, "these": true, "they": true,
	"this": true, "those": true, "through": true, "today": true, "under": true,
	"until": true, "very": true, "well": true, "were": true, "what": true,
	"when": true, "where": true, "which": true, "while": true, "will": true,
	"with": true, "would": true, "your": true, "going": true, "really": true,
	"okay": true, "right": true, "thing": true, "things": true, "kind": true,
	"know": true, "like": true, "want": true, "yeah": true,
}
