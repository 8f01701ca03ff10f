package contacts

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Score tiers, highest precedence first. A field is scored by the first tier
// whose condition holds.
const (
	TierExact        = "exact"
	TierFirstName    = "first_name"
	TierTokenOverlap = "token_overlap"
	TierPrefix       = "prefix"
	TierSubstring    = "substring"
	TierFuzzy        = "fuzzy"

	scoreExact     = 100
	scoreFirstName = 85
	scoreTokenMax  = 70
	scorePrefix    = 60
	scoreSubstring = 40
	scoreFuzzyMax  = 20
)

// Match is the result of resolving a free-text name.
type Match struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Score  int    `json:"score"`
	Tier   string `json:"tier"`
	Source string `json:"source"` // "saved" or "directory"
}

// Normalize lowercases, strips diacritics and punctuation, and collapses
// whitespace. Applied identically to queries and candidate name fields.
func Normalize(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range strings.ToLower(folded) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// FindContact resolves a free-text name against the learned directory and the
// saved-contact store, returning the single best match or nil.
//
// Saved contacts are scanned first: a saved hit at the first-name tier or
// better wins outright without touching the directory. Otherwise the best
// saved score becomes the floor the directory has to beat strictly. Group and
// broadcast pseudo-identities are never candidates.
func FindContact(records []Record, name string, saved []SavedContact) *Match {
	query := Normalize(name)
	if query == "" {
		return nil
	}

	sourceByID := make(map[string]string, len(saved))
	var best *Match

	// bestIsManual carries the manual-over-imported tie-break across both
	// scans. Match.Source says where the hit came from, not how it was saved,
	// so the origin is tracked separately.
	bestIsManual := false
	for _, sc := range saved {
		sourceByID[sc.ID] = sc.Source
		if IsPlaceholderID(sc.ID) {
			continue
		}
		score, tier := scoreField(Normalize(sc.Name), query)
		if score == 0 {
			continue
		}
		manual := sc.Source == SourceManual
		better := best == nil || score > best.Score ||
			(score == best.Score && manual && !bestIsManual)
		if !better {
			continue
		}
		best = &Match{ID: sc.ID, Name: sc.Name, Score: score, Tier: tier, Source: "saved"}
		bestIsManual = manual
		if score == scoreExact {
			return best
		}
	}
	if best != nil && best.Score >= scoreFirstName {
		return best
	}
	for _, rec := range records {
		if IsPlaceholderID(rec.ID) {
			continue
		}
		recScore, recTier, recName := 0, "", ""
		for _, field := range rec.NameFields() {
			score, tier := scoreField(Normalize(field), query)
			if score > recScore {
				recScore, recTier, recName = score, tier, field
			}
		}
		if recScore == 0 {
			continue
		}
		manual := sourceByID[rec.ID] == SourceManual
		better := best == nil || recScore > best.Score ||
			(recScore == best.Score && manual && !bestIsManual)
		if !better {
			continue
		}
		best = &Match{ID: rec.ID, Name: recName, Score: recScore, Tier: recTier, Source: "directory"}
		bestIsManual = manual
		if recScore == scoreExact {
			return best
		}
	}
	return best
}

// scoreField scores one normalized candidate field against the normalized
// query. Tiers are evaluated in precedence order; the first hit wins.
func scoreField(field, query string) (int, string) {
	if field == "" {
		return 0, ""
	}
	if field == query {
		return scoreExact, TierExact
	}

	fTokens := strings.Fields(field)
	qTokens := strings.Fields(query)

	if len(fTokens) > 0 && fTokens[0] == query {
		return scoreFirstName, TierFirstName
	}

	// Token overlap is only meaningful when either side is multi-word.
	if len(fTokens) > 1 || len(qTokens) > 1 {
		if j := jaccard(fTokens, qTokens); j >= 0.5 {
			return int(scoreTokenMax * j), TierTokenOverlap
		}
	}

	if strings.HasPrefix(field, query) {
		return scorePrefix, TierPrefix
	}
	if strings.Contains(field, query) {
		return scoreSubstring, TierSubstring
	}

	qLen := len([]rune(query))
	maxDist := qLen / 4
	if maxDist < 1 {
		maxDist = 1
	}
	dist := levenshtein(field, query)
	if len(fTokens) > 0 {
		if d := levenshtein(fTokens[0], query); d < dist {
			dist = d
		}
	}
	if dist <= maxDist {
		return int(scoreFuzzyMax * (1 - float64(dist)/float64(qLen))), TierFuzzy
	}
	return 0, ""
}

// jaccard computes |A∩B| / |A∪B| over token sets.
func jaccard(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	setA := make(map[string]struct{}, len(a))
	for _, tok := range a {
		setA[tok] = struct{}{}
	}
	setB := make(map[string]struct{}, len(b))
	for _, tok := range b {
		setB[tok] = struct{}{}
	}
	inter := 0
	for tok := range setA {
		if _, ok := setB[tok]; ok {
			inter++
		}
	}
	union := len(setA) + len(setB) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// levenshtein computes edit distance over runes with a two-row DP.
func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}
	prev := make([]int, len(rb)+1)
	cur := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		cur[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			cur[j] = min3(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(rb)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}
