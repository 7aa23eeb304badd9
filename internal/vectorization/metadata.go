package vectorization

import (
	"sort"
	"strings"
)

// Vocabulary tracks document frequency across the session's segments so
// TF-IDF key phrases can be computed incrementally as new segments arrive,
// per spec.md section 4.4 ("top-k TF-IDF over the session's running
// vocabulary").
type Vocabulary struct {
	docFreq  map[string]int
	docCount int
}

// NewVocabulary creates an empty running vocabulary.
func NewVocabulary() *Vocabulary {
	return &Vocabulary{docFreq: make(map[string]int)}
}

// Observe folds one segment's tokens into the running document frequencies
// and returns its term frequencies, so the caller can compute TF-IDF before
// the vocabulary sees later documents. The segment itself is already
// counted in the document frequencies (and in the document count) when
// Observe returns.
func (v *Vocabulary) Observe(text string) map[string]int {
	terms := tokenize(text)
	termFreq := make(map[string]int, len(terms))
	seen := make(map[string]bool, len(terms))
	for _, t := range terms {
		termFreq[t]++
		seen[t] = true
	}
	for t := range seen {
		v.docFreq[t]++
	}
	v.docCount++
	return termFreq
}

// KeyPhrases returns the top-k terms by TF-IDF score for one document's
// term frequencies against the vocabulary's current document frequencies.
func (v *Vocabulary) KeyPhrases(termFreq map[string]int, k int) []string {
	type scored struct {
		term  string
		score float64
	}
	scores := make([]scored, 0, len(termFreq))
	for term, tf := range termFreq {
		df := v.docFreq[term]
		if df == 0 {
			df = 1
		}
		idf := 1.0 + (float64(v.docCount) / float64(df))
		scores = append(scores, scored{term: term, score: float64(tf) * idf})
	}
	sort.Slice(scores, func(i, j int) bool { return scores[i].score > scores[j].score })

	if k > len(scores) {
		k = len(scores)
	}
	out := make([]string, k)
	for i := 0; i < k; i++ {
		out[i] = scores[i].term
	}
	return out
}

func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9')
	})
	out := fields[:0]
	for _, f := range fields {
		if len(f) > 2 && !stopwords[f] {
			out = append(out, f)
		}
	}
	return out
}

var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "that": true, "this": true,
	"with": true, "are": true, "was": true, "but": true, "you": true,
	"have": true, "not": true, "what": true, "all": true, "can": true,
}

// topicTaxonomy is a coarse keyword-to-tag mapping (spec.md section 4.4
// "topic tags from a coarse keyword taxonomy").
var topicTaxonomy = map[string]string{
	"budget": "finance", "cost": "finance", "revenue": "finance", "invoice": "finance",
	"deploy": "engineering", "bug": "engineering", "release": "engineering", "server": "engineering",
	"deadline": "planning", "schedule": "planning", "roadmap": "planning", "milestone": "planning",
	"customer": "sales", "client": "sales", "contract": "sales", "proposal": "sales",
}

// TopicTags maps a document's terms through the taxonomy, deduplicated.
func TopicTags(terms []string) []string {
	seen := make(map[string]bool)
	var tags []string
	for _, t := range terms {
		if tag, ok := topicTaxonomy[t]; ok && !seen[tag] {
			seen[tag] = true
			tags = append(tags, tag)
		}
	}
	return tags
}

// WordCount counts whitespace-delimited words in a transcript.
func WordCount(text string) int {
	return len(strings.Fields(text))
}

// CompositeConfidence computes the overall confidence (spec.md section 4.4:
// min of transcription, speaker, and embedding-quality confidences).
func CompositeConfidence(transcriptionConf, speakerConf, embeddingQuality float32) float32 {
	m := transcriptionConf
	if speakerConf < m {
		m = speakerConf
	}
	if embeddingQuality < m {
		m = embeddingQuality
	}
	return m
}
