package services

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"unicode"

	"github.com/lithammer/fuzzysearch/fuzzy"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/verbatimhq/verbatim/core/config"
	"github.com/verbatimhq/verbatim/core/schema"
	"github.com/verbatimhq/verbatim/core/store"
	"github.com/verbatimhq/verbatim/pkg/xsync"
)

const (
	matchConfidenceStep   = 0.02
	penaltyConfidenceStep = 0.1
	autoLearnConfidence   = 0.7
	maxSuggestionTokens   = 4
	minPhoneticTokenLen   = 3
)

// VocabularyService rewrites transcripts toward organization-specific
// terminology and learns new terms from manual corrections. The compiled
// matcher is cached per organization and rebuilt on any term mutation.
type VocabularyService struct {
	vocab    *store.VocabularyStore
	cfg      *config.ApplicationConfig
	matchers *xsync.SyncedMap[string, *matcher]
}

func NewVocabularyService(vocab *store.VocabularyStore, cfg *config.ApplicationConfig) *VocabularyService {
	return &VocabularyService{
		vocab:    vocab,
		cfg:      cfg,
		matchers: xsync.NewSyncedMap[string, *matcher](),
	}
}

// Apply rewrites the segments toward the organization's vocabulary and
// reports every substitution it made. Failures while recording term usage
// are logged, never fatal to the job.
func (v *VocabularyService) Apply(ctx context.Context, org string, segments []schema.TranscriptSegment) ([]schema.TranscriptSegment, []schema.VocabularyMatch, error) {
	m, err := v.matcherFor(ctx, org)
	if err != nil {
		return nil, nil, err
	}
	if m.empty() {
		return segments, nil, nil
	}

	out := make([]schema.TranscriptSegment, len(segments))
	copy(out, segments)
	var matches []schema.VocabularyMatch
	for i := range out {
		text, segMatches := m.apply(out[i].Text, out[i].Index)
		out[i].Text = text
		matches = append(matches, segMatches...)
	}

	for _, match := range matches {
		if err := v.vocab.RecordMatch(ctx, match.TermID, matchConfidenceStep); err != nil {
			log.Warn().Err(err).Str("term_id", match.TermID).Msg("failed to record vocabulary match")
		}
	}
	return out, matches, nil
}

func (v *VocabularyService) UpsertTerm(ctx context.Context, org string, req schema.UpsertVocabularyRequest) (*schema.VocabularyTerm, error) {
	name := strings.TrimSpace(req.Term)
	if name == "" {
		return nil, fmt.Errorf("vocabulary term cannot be empty")
	}
	term := &schema.VocabularyTerm{
		OrganizationID: org,
		Term:           name,
		Variations:     req.Variations,
		ContextHints:   req.ContextHints,
		Confidence:     req.Confidence,
		Phonetic:       phoneticKey(name),
	}
	saved, err := v.vocab.Upsert(ctx, term)
	if err != nil {
		return nil, err
	}
	v.matchers.Delete(org)
	return saved, nil
}

func (v *VocabularyService) GetTerm(ctx context.Context, org, termID string) (*schema.VocabularyTerm, error) {
	return v.vocab.Get(ctx, org, termID)
}

func (v *VocabularyService) ListTerms(ctx context.Context, org string) ([]*schema.VocabularyTerm, error) {
	return v.vocab.ListActive(ctx, org)
}

func (v *VocabularyService) DeactivateTerm(ctx context.Context, org, termID string) error {
	if err := v.vocab.Deactivate(ctx, org, termID); err != nil {
		return err
	}
	v.matchers.Delete(org)
	return nil
}

// RecordCorrection appends a manual transcript edit and feeds it into the
// learning loop: substitutions the user reverted penalize the term,
// corrections toward a known term confirm it, and recurring unknown phrases
// become suggestions.
func (v *VocabularyService) RecordCorrection(ctx context.Context, org string, req schema.CorrectionRequest) (*schema.CorrectionRecord, error) {
	rec, err := v.vocab.AppendCorrection(ctx, &schema.CorrectionRecord{
		OrganizationID: org,
		JobID:          req.JobID,
		Original:       req.Original,
		Corrected:      req.Corrected,
		Applied:        true,
	})
	if err != nil {
		return nil, err
	}
	v.learnFromCorrection(ctx, org, req.Original, req.Corrected)
	return rec, nil
}

// PendingSuggestions returns learned candidates that crossed the occurrence
// floor and await review.
func (v *VocabularyService) PendingSuggestions(ctx context.Context, org string) ([]*schema.VocabularySuggestion, error) {
	all, err := v.vocab.ListSuggestions(ctx, org, schema.SuggestionPending)
	if err != nil {
		return nil, err
	}
	out := make([]*schema.VocabularySuggestion, 0, len(all))
	for _, s := range all {
		if s.Occurrences >= v.cfg.MinSuggestionOccurrences {
			out = append(out, s)
		}
	}
	return out, nil
}

// ReviewSuggestion accepts or rejects a learned candidate. Accepting
// promotes it to an active vocabulary term.
func (v *VocabularyService) ReviewSuggestion(ctx context.Context, org, suggestionID, action string) (*schema.VocabularySuggestion, error) {
	switch action {
	case "accept":
		sugg, err := v.vocab.UpdateSuggestionStatus(ctx, org, suggestionID, schema.SuggestionAccepted)
		if err != nil {
			return nil, err
		}
		if _, err := v.UpsertTerm(ctx, org, schema.UpsertVocabularyRequest{Term: sugg.Term}); err != nil {
			return nil, err
		}
		return sugg, nil
	case "reject":
		return v.vocab.UpdateSuggestionStatus(ctx, org, suggestionID, schema.SuggestionRejected)
	default:
		return nil, fmt.Errorf("unknown review action %q", action)
	}
}

// LoadSeedFile upserts every term of a vocabulary seed file. Called at
// startup and by the dynamic config watcher when the file changes.
func (v *VocabularyService) LoadSeedFile(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading vocabulary seed: %w", err)
	}
	return v.LoadSeed(ctx, data)
}

// LoadSeed upserts every term of a YAML seed document. Terms that fail
// validation are skipped, not fatal, so one bad row cannot block a reload.
func (v *VocabularyService) LoadSeed(ctx context.Context, data []byte) error {
	var seed vocabularySeed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return fmt.Errorf("parsing vocabulary seed: %w", err)
	}

	count := 0
	for _, org := range seed.Organizations {
		for _, t := range org.Terms {
			_, err := v.UpsertTerm(ctx, org.OrganizationID, schema.UpsertVocabularyRequest{
				Term:         t.Term,
				Variations:   t.Variations,
				ContextHints: t.ContextHints,
				Confidence:   t.Confidence,
			})
			if err != nil {
				log.Warn().Err(err).
					Str("organization_id", org.OrganizationID).
					Str("term", t.Term).
					Msg("skipping invalid seed term")
				continue
			}
			count++
		}
	}
	log.Info().Int("terms", count).Msg("vocabulary seed loaded")
	return nil
}

type vocabularySeed struct {
	Organizations []struct {
		OrganizationID string `yaml:"organization_id"`
		Terms          []struct {
			Term         string   `yaml:"term"`
			Variations   []string `yaml:"variations"`
			ContextHints []string `yaml:"context_hints"`
			Confidence   float64  `yaml:"confidence"`
		} `yaml:"terms"`
	} `yaml:"organizations"`
}

func (v *VocabularyService) matcherFor(ctx context.Context, org string) (*matcher, error) {
	if m, ok := v.matchers.GetOK(org); ok {
		return m, nil
	}
	terms, err := v.vocab.ListActive(ctx, org)
	if err != nil {
		return nil, fmt.Errorf("loading vocabulary for %s: %w", org, err)
	}
	m := compileMatcher(terms, v.cfg.PhoneticThreshold, v.cfg.ContextWindow)
	v.matchers.Set(org, m)
	return m, nil
}

func (v *VocabularyService) learnFromCorrection(ctx context.Context, org, original, corrected string) {
	m, err := v.matcherFor(ctx, org)
	if err != nil {
		log.Warn().Err(err).Str("organization_id", org).Msg("skipping correction learning")
		return
	}

	for _, edit := range diffTokens(tokenTexts(original), tokenTexts(corrected)) {
		removed := foldJoin(edit.removed)
		added := foldJoin(edit.added)
		if removed == added {
			continue
		}

		// The user replaced a term we put there: the substitution was wrong.
		if ct, ok := m.exact[removed]; ok && added != "" {
			if err := v.vocab.PenalizeTerm(ctx, ct.term.ID, penaltyConfidenceStep); err != nil {
				log.Warn().Err(err).Str("term_id", ct.term.ID).Msg("failed to penalize vocabulary term")
			}
			continue
		}

		// The user corrected toward a known term: the term is confirmed.
		if ct, ok := m.exact[added]; ok {
			if err := v.vocab.RecordMatch(ctx, ct.term.ID, matchConfidenceStep); err != nil {
				log.Warn().Err(err).Str("term_id", ct.term.ID).Msg("failed to record vocabulary confirmation")
			}
			continue
		}

		v.suggest(ctx, org, edit.added)
	}
}

func (v *VocabularyService) suggest(ctx context.Context, org string, added []string) {
	if len(added) == 0 || len(added) > maxSuggestionTokens {
		return
	}
	phrase := strings.Join(added, " ")
	if !containsLetter(phrase) {
		return
	}

	sugg, err := v.vocab.BumpSuggestion(ctx, org, phrase)
	if err != nil {
		log.Warn().Err(err).Str("term", phrase).Msg("failed to bump vocabulary suggestion")
		return
	}
	if v.cfg.AutoLearn && sugg.Status == schema.SuggestionPending && sugg.Occurrences >= v.cfg.AutoLearnOccurrences {
		v.autoLearn(ctx, org, sugg)
	}
}

func (v *VocabularyService) autoLearn(ctx context.Context, org string, sugg *schema.VocabularySuggestion) {
	_, err := v.UpsertTerm(ctx, org, schema.UpsertVocabularyRequest{
		Term:       sugg.Term,
		Confidence: autoLearnConfidence,
	})
	if err != nil {
		log.Warn().Err(err).Str("term", sugg.Term).Msg("failed to auto-learn vocabulary term")
		return
	}
	if _, err := v.vocab.UpdateSuggestionStatus(ctx, org, sugg.ID, schema.SuggestionAutoLearned); err != nil {
		log.Warn().Err(err).Str("term", sugg.Term).Msg("failed to mark suggestion auto-learned")
	}
	log.Info().
		Str("organization_id", org).
		Str("term", sugg.Term).
		Int("occurrences", sugg.Occurrences).
		Msg("vocabulary term auto-learned")
}

// matcher is the compiled, read-only form of one organization's vocabulary.
type matcher struct {
	exact     map[string]*compiledTerm // folded term and variation keys
	phonetic  []*compiledTerm          // terms eligible for phonetic matching
	maxGram   int
	threshold float64
	window    int
}

type compiledTerm struct {
	term     *schema.VocabularyTerm
	width    int // token count of the canonical term
	phonetic string
	hints    []hintPair
}

type hintPair struct {
	folded   string
	original string
}

func compileMatcher(terms []*schema.VocabularyTerm, threshold float64, window int) *matcher {
	m := &matcher{
		exact:     map[string]*compiledTerm{},
		threshold: threshold,
		window:    window,
	}
	if m.window <= 0 {
		m.window = 5
	}

	for _, t := range terms {
		width := len(tokenTexts(t.Term))
		if width == 0 {
			continue
		}
		ct := &compiledTerm{term: t, width: width, phonetic: t.Phonetic}
		if ct.phonetic == "" {
			ct.phonetic = phoneticKey(t.Term)
		}
		for _, h := range t.ContextHints {
			folded := foldJoin(tokenTexts(h))
			if folded == "" {
				continue
			}
			ct.hints = append(ct.hints, hintPair{folded: folded, original: h})
		}

		for _, key := range append([]string{t.Term}, t.Variations...) {
			folded := foldJoin(tokenTexts(key))
			if folded == "" {
				continue
			}
			if w := len(tokenTexts(key)); w > m.maxGram {
				m.maxGram = w
			}
			if _, taken := m.exact[folded]; !taken {
				m.exact[folded] = ct
			}
		}

		// Terms without context hints never participate in phonetic
		// substitution: nothing would stop them rewriting homophones.
		if len(ct.hints) > 0 {
			m.phonetic = append(m.phonetic, ct)
		}
	}

	sort.Slice(m.phonetic, func(i, j int) bool {
		return m.phonetic[i].term.Term < m.phonetic[j].term.Term
	})
	return m
}

func (m *matcher) empty() bool {
	return len(m.exact) == 0 && len(m.phonetic) == 0
}

type pendingMatch struct {
	start, end int
	text       string
	match      schema.VocabularyMatch
}

// apply rewrites one segment's text. Longest exact matches claim their
// tokens first, then phonetic candidates fill in over the remaining ones.
func (m *matcher) apply(text string, segmentIndex int) (string, []schema.VocabularyMatch) {
	tokens := tokenize(text)
	if len(tokens) == 0 {
		return text, nil
	}
	used := make([]bool, len(tokens))
	var pending []pendingMatch

	for width := m.maxGram; width >= 1; width-- {
		for i := 0; i+width <= len(tokens); i++ {
			if claimed(used, i, width) {
				continue
			}
			gram := tokens[i : i+width]
			if width > 1 && !gapsAreSpaces(text, gram) {
				continue
			}
			ct, ok := m.exact[foldTokens(gram)]
			if !ok {
				continue
			}
			claim(used, i, width)
			original := text[gram[0].start : gram[width-1].end]
			if original == ct.term.Term {
				continue
			}
			pending = append(pending, pendingMatch{
				start: gram[0].start,
				end:   gram[width-1].end,
				text:  ct.term.Term,
				match: schema.VocabularyMatch{
					TermID:       ct.term.ID,
					Term:         ct.term.Term,
					Original:     original,
					SegmentIndex: segmentIndex,
					Similarity:   1,
				},
			})
		}
	}

	for _, ct := range m.phonetic {
		for i := 0; i+ct.width <= len(tokens); i++ {
			if claimed(used, i, ct.width) {
				continue
			}
			gram := tokens[i : i+ct.width]
			if ct.width > 1 && !gapsAreSpaces(text, gram) {
				continue
			}
			folded := foldTokens(gram)
			if len(folded) < minPhoneticTokenLen {
				continue
			}
			sim := phoneticSimilarity(phoneticKey(folded), ct.phonetic)
			if sim < m.threshold {
				continue
			}
			hint := m.hintNear(tokens, i, i+ct.width, ct)
			if hint == "" {
				continue
			}
			claim(used, i, ct.width)
			original := text[gram[0].start : gram[ct.width-1].end]
			pending = append(pending, pendingMatch{
				start: gram[0].start,
				end:   gram[ct.width-1].end,
				text:  ct.term.Term,
				match: schema.VocabularyMatch{
					TermID:       ct.term.ID,
					Term:         ct.term.Term,
					Original:     original,
					SegmentIndex: segmentIndex,
					Similarity:   sim,
					ContextHint:  hint,
				},
			})
		}
	}

	if len(pending) == 0 {
		return text, nil
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].start < pending[j].start })

	var b strings.Builder
	last := 0
	matches := make([]schema.VocabularyMatch, 0, len(pending))
	for _, p := range pending {
		b.WriteString(text[last:p.start])
		b.WriteString(p.text)
		last = p.end
		matches = append(matches, p.match)
	}
	b.WriteString(text[last:])
	return b.String(), matches
}

// hintNear looks for one of the term's context hints within the window of
// tokens around the candidate span, excluding the span itself.
func (m *matcher) hintNear(tokens []token, from, to int, ct *compiledTerm) string {
	lo := from - m.window
	if lo < 0 {
		lo = 0
	}
	hi := to + m.window
	if hi > len(tokens) {
		hi = len(tokens)
	}
	window := " " + foldTokens(tokens[lo:from]) + " " + foldTokens(tokens[to:hi]) + " "
	for _, h := range ct.hints {
		if strings.Contains(window, " "+h.folded+" ") {
			return h.original
		}
	}
	return ""
}

type token struct {
	text       string
	start, end int // byte offsets into the source text
}

func tokenize(s string) []token {
	var out []token
	start := -1
	for i, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '\'' {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			out = append(out, token{text: s[start:i], start: start, end: i})
			start = -1
		}
	}
	if start >= 0 {
		out = append(out, token{text: s[start:], start: start, end: len(s)})
	}
	return out
}

func tokenTexts(s string) []string {
	tokens := tokenize(s)
	out := make([]string, len(tokens))
	for i, t := range tokens {
		out[i] = t.text
	}
	return out
}

func foldTokens(tokens []token) string {
	parts := make([]string, len(tokens))
	for i, t := range tokens {
		parts[i] = strings.ToLower(t.text)
	}
	return strings.Join(parts, " ")
}

func foldJoin(words []string) string {
	return strings.ToLower(strings.Join(words, " "))
}

func claimed(used []bool, from, width int) bool {
	for k := from; k < from+width; k++ {
		if used[k] {
			return true
		}
	}
	return false
}

func claim(used []bool, from, width int) {
	for k := from; k < from+width; k++ {
		used[k] = true
	}
}

func gapsAreSpaces(text string, gram []token) bool {
	for k := 0; k+1 < len(gram); k++ {
		if strings.TrimSpace(text[gram[k].end:gram[k+1].start]) != "" {
			return false
		}
	}
	return true
}

func containsLetter(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}

// phoneticKey encodes a word as its leading letter followed by soundex
// consonant classes, kept at full length so keys of long words still compare
// meaningfully under Levenshtein distance.
func phoneticKey(s string) string {
	var letters []rune
	for _, r := range strings.ToLower(s) {
		if r >= 'a' && r <= 'z' {
			letters = append(letters, r)
		}
	}
	if len(letters) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteRune(letters[0])
	prev := soundexClass(letters[0])
	for _, r := range letters[1:] {
		c := soundexClass(r)
		if c == 0 {
			prev = 0
			continue
		}
		if c != prev {
			b.WriteByte('0' + byte(c))
		}
		prev = c
	}
	return b.String()
}

func soundexClass(r rune) int {
	switch r {
	case 'b', 'f', 'p', 'v':
		return 1
	case 'c', 'g', 'j', 'k', 'q', 's', 'x', 'z':
		return 2
	case 'd', 't':
		return 3
	case 'l':
		return 4
	case 'm', 'n':
		return 5
	case 'r':
		return 6
	}
	return 0
}

func phoneticSimilarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	longest := len(a)
	if len(b) > longest {
		longest = len(b)
	}
	sim := 1 - float64(fuzzy.LevenshteinDistance(a, b))/float64(longest)
	if sim < 0 {
		return 0
	}
	return sim
}

type tokenEdit struct {
	removed []string
	added   []string
}

// diffTokens returns the contiguous edits turning a into b, computed over a
// longest-common-subsequence table of case-folded tokens. Inputs beyond a
// practical correction size are skipped.
func diffTokens(a, b []string) []tokenEdit {
	const maxTokens = 512
	if len(a) > maxTokens || len(b) > maxTokens {
		return nil
	}

	fa := make([]string, len(a))
	for i, w := range a {
		fa[i] = strings.ToLower(w)
	}
	fb := make([]string, len(b))
	for i, w := range b {
		fb[i] = strings.ToLower(w)
	}

	lcs := make([][]int, len(a)+1)
	for i := range lcs {
		lcs[i] = make([]int, len(b)+1)
	}
	for i := len(a) - 1; i >= 0; i-- {
		for j := len(b) - 1; j >= 0; j-- {
			if fa[i] == fb[j] {
				lcs[i][j] = lcs[i+1][j+1] + 1
			} else if lcs[i+1][j] >= lcs[i][j+1] {
				lcs[i][j] = lcs[i+1][j]
			} else {
				lcs[i][j] = lcs[i][j+1]
			}
		}
	}

	var edits []tokenEdit
	var cur *tokenEdit
	flush := func() {
		if cur != nil {
			edits = append(edits, *cur)
			cur = nil
		}
	}
	ensure := func() *tokenEdit {
		if cur == nil {
			cur = &tokenEdit{}
		}
		return cur
	}

	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case fa[i] == fb[j]:
			flush()
			i++
			j++
		case lcs[i+1][j] >= lcs[i][j+1]:
			e := ensure()
			e.removed = append(e.removed, a[i])
			i++
		default:
			e := ensure()
			e.added = append(e.added, b[j])
			j++
		}
	}
	for ; i < len(a); i++ {
		e := ensure()
		e.removed = append(e.removed, a[i])
	}
	for ; j < len(b); j++ {
		e := ensure()
		e.added = append(e.added, b[j])
	}
	flush()
	return edits
}
