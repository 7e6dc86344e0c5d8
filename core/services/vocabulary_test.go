package services

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/verbatimhq/verbatim/core/config"
	"github.com/verbatimhq/verbatim/core/schema"
	"github.com/verbatimhq/verbatim/core/store"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Phonetic keys", func() {
	It("maps similar-sounding words to close keys", func() {
		Expect(phoneticKey("Kubernetes")).To(Equal("k16532"))
		Expect(phoneticKey("coobernetis")).To(Equal("c16532"))
		Expect(phoneticSimilarity(phoneticKey("coobernetis"), phoneticKey("Kubernetes"))).To(BeNumerically("~", 0.833, 0.01))
	})

	It("collapses homophones to the same key", func() {
		Expect(phoneticKey("their")).To(Equal(phoneticKey("there")))
	})

	It("ignores case, spacing and punctuation", func() {
		Expect(phoneticKey("Data-dog")).To(Equal(phoneticKey("datadog")))
	})

	It("returns empty for non-letter input", func() {
		Expect(phoneticKey("42")).To(BeEmpty())
		Expect(phoneticSimilarity("", "d332")).To(BeZero())
	})
})

var _ = Describe("diffTokens", func() {
	It("finds a single word substitution", func() {
		edits := diffTokens(
			[]string{"we", "use", "the", "acme", "stack"},
			[]string{"we", "use", "the", "Initech", "stack"},
		)
		Expect(edits).To(HaveLen(1))
		Expect(edits[0].removed).To(Equal([]string{"acme"}))
		Expect(edits[0].added).To(Equal([]string{"Initech"}))
	})

	It("groups contiguous changes into one edit", func() {
		edits := diffTokens(
			[]string{"meet", "at", "the", "data", "dog", "office"},
			[]string{"meet", "at", "the", "Datadog", "office"},
		)
		Expect(edits).To(HaveLen(1))
		Expect(edits[0].removed).To(Equal([]string{"data", "dog"}))
		Expect(edits[0].added).To(Equal([]string{"Datadog"}))
	})

	It("reports trailing additions", func() {
		edits := diffTokens([]string{"hello"}, []string{"hello", "world"})
		Expect(edits).To(HaveLen(1))
		Expect(edits[0].removed).To(BeEmpty())
		Expect(edits[0].added).To(Equal([]string{"world"}))
	})
})

var _ = Describe("VocabularyService", func() {
	var (
		ctx context.Context
		s   *store.Store
		cfg *config.ApplicationConfig
		svc *VocabularyService
	)

	const org = "org-vocab"

	newService := func(opts ...config.AppOption) *VocabularyService {
		cfg = config.NewApplicationConfig(opts...)
		return NewVocabularyService(s.Vocabulary, cfg)
	}

	segments := func(texts ...string) []schema.TranscriptSegment {
		out := make([]schema.TranscriptSegment, len(texts))
		for i, t := range texts {
			out[i] = schema.TranscriptSegment{
				Index: i,
				Start: time.Duration(i) * time.Second,
				End:   time.Duration(i+1) * time.Second,
				Text:  t,
			}
		}
		return out
	}

	BeforeEach(func() {
		ctx = context.Background()
		dsn := fmt.Sprintf("file:%s?_busy_timeout=5000", filepath.Join(GinkgoT().TempDir(), "vocab.db"))
		var err error
		s, err = store.New("sqlite", dsn)
		Expect(err).ToNot(HaveOccurred())
		DeferCleanup(func() { _ = s.Close() })
		svc = newService()
	})

	Context("exact matching", func() {
		BeforeEach(func() {
			_, err := svc.UpsertTerm(ctx, org, schema.UpsertVocabularyRequest{
				Term:       "Datadog",
				Variations: []string{"data dog"},
			})
			Expect(err).ToNot(HaveOccurred())
		})

		It("replaces a known variation with the canonical term", func() {
			out, matches, err := svc.Apply(ctx, org, segments("the data dog agent is down"))
			Expect(err).ToNot(HaveOccurred())
			Expect(out[0].Text).To(Equal("the Datadog agent is down"))
			Expect(matches).To(HaveLen(1))
			Expect(matches[0].Original).To(Equal("data dog"))
			Expect(matches[0].Term).To(Equal("Datadog"))
			Expect(matches[0].Similarity).To(Equal(1.0))
			Expect(matches[0].ContextHint).To(BeEmpty())
		})

		It("fixes the casing of the term itself", func() {
			out, matches, err := svc.Apply(ctx, org, segments("datadog is paging us"))
			Expect(err).ToNot(HaveOccurred())
			Expect(out[0].Text).To(Equal("Datadog is paging us"))
			Expect(matches).To(HaveLen(1))
		})

		It("leaves a canonical mention untouched", func() {
			out, matches, err := svc.Apply(ctx, org, segments("Datadog is paging us"))
			Expect(err).ToNot(HaveOccurred())
			Expect(out[0].Text).To(Equal("Datadog is paging us"))
			Expect(matches).To(BeEmpty())
		})

		It("does not join tokens across punctuation", func() {
			out, matches, err := svc.Apply(ctx, org, segments("we have data. Dog walking is later"))
			Expect(err).ToNot(HaveOccurred())
			Expect(out[0].Text).To(Equal("we have data. Dog walking is later"))
			Expect(matches).To(BeEmpty())
		})

		It("records usage on the matched term", func() {
			_, matches, err := svc.Apply(ctx, org, segments("the data dog agent is down"))
			Expect(err).ToNot(HaveOccurred())
			Expect(matches).To(HaveLen(1))

			term, err := svc.GetTerm(ctx, org, matches[0].TermID)
			Expect(err).ToNot(HaveOccurred())
			Expect(term.UsageCount).To(Equal(int64(1)))
			Expect(term.Confidence).To(BeNumerically("~", 0.52, 0.001))
		})

		It("tags matches with their segment index", func() {
			out, matches, err := svc.Apply(ctx, org, segments("nothing here", "call data dog now"))
			Expect(err).ToNot(HaveOccurred())
			Expect(out[1].Text).To(Equal("call Datadog now"))
			Expect(matches).To(HaveLen(1))
			Expect(matches[0].SegmentIndex).To(Equal(1))
		})
	})

	Context("phonetic matching", func() {
		BeforeEach(func() {
			_, err := svc.UpsertTerm(ctx, org, schema.UpsertVocabularyRequest{
				Term:         "Kubernetes",
				ContextHints: []string{"cluster", "deploy"},
			})
			Expect(err).ToNot(HaveOccurred())
		})

		It("substitutes a close-sounding token when a hint is in the window", func() {
			out, matches, err := svc.Apply(ctx, org, segments("we deploy to coobernetis today"))
			Expect(err).ToNot(HaveOccurred())
			Expect(out[0].Text).To(Equal("we deploy to Kubernetes today"))
			Expect(matches).To(HaveLen(1))
			Expect(matches[0].Similarity).To(BeNumerically(">=", 0.8))
			Expect(matches[0].ContextHint).To(Equal("deploy"))
		})

		It("refuses the same token without a supporting hint", func() {
			out, matches, err := svc.Apply(ctx, org, segments("coobernetis sounds like a nice word"))
			Expect(err).ToNot(HaveOccurred())
			Expect(out[0].Text).To(Equal("coobernetis sounds like a nice word"))
			Expect(matches).To(BeEmpty())
		})

		It("never rewrites through a term without context hints", func() {
			_, err := svc.UpsertTerm(ctx, org, schema.UpsertVocabularyRequest{Term: "Tableau"})
			Expect(err).ToNot(HaveOccurred())

			out, matches, err := svc.Apply(ctx, org, segments("the tablow shows revenue"))
			Expect(err).ToNot(HaveOccurred())
			Expect(out[0].Text).To(Equal("the tablow shows revenue"))
			Expect(matches).To(BeEmpty())
		})

		It("respects the context window size", func() {
			svc = newService(config.WithVocabularyMatching(0.8, 1))

			out, _, err := svc.Apply(ctx, org, segments("coobernetis is not near the right words cluster"))
			Expect(err).ToNot(HaveOccurred())
			Expect(out[0].Text).To(Equal("coobernetis is not near the right words cluster"))
		})
	})

	Context("corrections", func() {
		var termID string

		BeforeEach(func() {
			term, err := svc.UpsertTerm(ctx, org, schema.UpsertVocabularyRequest{Term: "Datadog"})
			Expect(err).ToNot(HaveOccurred())
			termID = term.ID
		})

		It("penalizes a term the user corrected away", func() {
			_, err := svc.RecordCorrection(ctx, org, schema.CorrectionRequest{
				JobID:     "job-1",
				Original:  "the Datadog agent is down",
				Corrected: "the database agent is down",
			})
			Expect(err).ToNot(HaveOccurred())

			term, err := svc.GetTerm(ctx, org, termID)
			Expect(err).ToNot(HaveOccurred())
			Expect(term.Confidence).To(BeNumerically("~", 0.4, 0.001))
		})

		It("confirms a term the user corrected toward", func() {
			_, err := svc.RecordCorrection(ctx, org, schema.CorrectionRequest{
				Original:  "the data dock agent is down",
				Corrected: "the Datadog agent is down",
			})
			Expect(err).ToNot(HaveOccurred())

			term, err := svc.GetTerm(ctx, org, termID)
			Expect(err).ToNot(HaveOccurred())
			Expect(term.UsageCount).To(Equal(int64(1)))
			Expect(term.Confidence).To(BeNumerically("~", 0.52, 0.001))
		})

		It("counts corrections per job", func() {
			for i := 0; i < 2; i++ {
				_, err := svc.RecordCorrection(ctx, org, schema.CorrectionRequest{
					JobID:     "job-9",
					Original:  "foo",
					Corrected: "bar",
				})
				Expect(err).ToNot(HaveOccurred())
			}
			n, err := s.Vocabulary.CountCorrections(ctx, "job-9")
			Expect(err).ToNot(HaveOccurred())
			Expect(n).To(Equal(int64(2)))
		})
	})

	Context("learning loop", func() {
		correct := func(times int) {
			for i := 0; i < times; i++ {
				_, err := svc.RecordCorrection(ctx, org, schema.CorrectionRequest{
					Original:  "we migrated off the acme stack",
					Corrected: "we migrated off the Initech stack",
				})
				Expect(err).ToNot(HaveOccurred())
			}
		}

		It("surfaces a recurring unknown phrase once it crosses the floor", func() {
			svc = newService(config.WithSuggestionThresholds(3, 10))

			correct(2)
			pending, err := svc.PendingSuggestions(ctx, org)
			Expect(err).ToNot(HaveOccurred())
			Expect(pending).To(BeEmpty())

			correct(1)
			pending, err = svc.PendingSuggestions(ctx, org)
			Expect(err).ToNot(HaveOccurred())
			Expect(pending).To(HaveLen(1))
			Expect(pending[0].Term).To(Equal("Initech"))
			Expect(pending[0].Occurrences).To(Equal(3))
		})

		It("auto-learns a high-frequency phrase when enabled", func() {
			svc = newService(config.EnableAutoLearn, config.WithSuggestionThresholds(1, 2))

			correct(2)

			terms, err := svc.ListTerms(ctx, org)
			Expect(err).ToNot(HaveOccurred())
			Expect(terms).To(HaveLen(1))
			Expect(terms[0].Term).To(Equal("Initech"))
			Expect(terms[0].Confidence).To(BeNumerically("~", autoLearnConfidence, 0.001))

			pending, err := svc.PendingSuggestions(ctx, org)
			Expect(err).ToNot(HaveOccurred())
			Expect(pending).To(BeEmpty())

			out, _, err := svc.Apply(ctx, org, segments("ask initech about the invoice"))
			Expect(err).ToNot(HaveOccurred())
			Expect(out[0].Text).To(Equal("ask Initech about the invoice"))
		})

		It("promotes an accepted suggestion to an active term", func() {
			svc = newService(config.WithSuggestionThresholds(1, 100))
			correct(1)

			pending, err := svc.PendingSuggestions(ctx, org)
			Expect(err).ToNot(HaveOccurred())
			Expect(pending).To(HaveLen(1))

			_, err = svc.ReviewSuggestion(ctx, org, pending[0].ID, "accept")
			Expect(err).ToNot(HaveOccurred())

			terms, err := svc.ListTerms(ctx, org)
			Expect(err).ToNot(HaveOccurred())
			Expect(terms).To(HaveLen(1))
			Expect(terms[0].Term).To(Equal("Initech"))
		})

		It("drops a rejected suggestion from review", func() {
			svc = newService(config.WithSuggestionThresholds(1, 100))
			correct(1)

			pending, err := svc.PendingSuggestions(ctx, org)
			Expect(err).ToNot(HaveOccurred())
			Expect(pending).To(HaveLen(1))

			sugg, err := svc.ReviewSuggestion(ctx, org, pending[0].ID, "reject")
			Expect(err).ToNot(HaveOccurred())
			Expect(sugg.Status).To(Equal(schema.SuggestionRejected))

			pending, err = svc.PendingSuggestions(ctx, org)
			Expect(err).ToNot(HaveOccurred())
			Expect(pending).To(BeEmpty())
		})

		It("rejects an unknown review action", func() {
			_, err := svc.ReviewSuggestion(ctx, org, "whatever", "promote")
			Expect(err).To(MatchError(ContainSubstring("unknown review action")))
		})
	})

	Context("seed file", func() {
		It("loads terms for every organization in the file", func() {
			path := filepath.Join(GinkgoT().TempDir(), "vocabulary_seed.yaml")
			seed := `organizations:
  - organization_id: org-vocab
    terms:
      - term: Datadog
        variations: ["data dog"]
        context_hints: ["monitoring"]
      - term: Kubernetes
        context_hints: ["cluster"]
  - organization_id: org-other
    terms:
      - term: Initech
`
			Expect(os.WriteFile(path, []byte(seed), 0o600)).To(Succeed())
			Expect(svc.LoadSeedFile(ctx, path)).To(Succeed())

			terms, err := svc.ListTerms(ctx, org)
			Expect(err).ToNot(HaveOccurred())
			Expect(terms).To(HaveLen(2))

			out, _, err := svc.Apply(ctx, org, segments("the data dog dashboard"))
			Expect(err).ToNot(HaveOccurred())
			Expect(out[0].Text).To(Equal("the Datadog dashboard"))
		})

		It("fails on an unreadable file", func() {
			Expect(svc.LoadSeedFile(ctx, filepath.Join(GinkgoT().TempDir(), "missing.yaml"))).ToNot(Succeed())
		})
	})

	It("invalidates the cached matcher when a term is deactivated", func() {
		term, err := svc.UpsertTerm(ctx, org, schema.UpsertVocabularyRequest{Term: "Datadog", Variations: []string{"data dog"}})
		Expect(err).ToNot(HaveOccurred())

		out, _, err := svc.Apply(ctx, org, segments("call data dog"))
		Expect(err).ToNot(HaveOccurred())
		Expect(out[0].Text).To(Equal("call Datadog"))

		Expect(svc.DeactivateTerm(ctx, org, term.ID)).To(Succeed())

		out, matches, err := svc.Apply(ctx, org, segments("call data dog"))
		Expect(err).ToNot(HaveOccurred())
		Expect(out[0].Text).To(Equal("call data dog"))
		Expect(matches).To(BeEmpty())
	})
})
