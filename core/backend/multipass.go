package backend

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/verbatimhq/verbatim/core/schema"
)

// PassPolicy is the per-mode transcription budget: the temperature ladder,
// the pass ceiling and the confidence level at which the engine stops early.
type PassPolicy struct {
	Temperatures  []float64
	MaxPasses     int
	MinConfidence float64
}

// MultiPassResult is the merged outcome of one engine run. Disagreement is
// the fraction of aligned spans where passes produced different text, the
// accuracy monitor uses it as a word error proxy.
type MultiPassResult struct {
	Result       schema.TranscriptionResult
	Passes       int
	Disagreement float64
}

// Engine drives repeated transcription passes over one audio buffer and
// merges them into a single result.
type Engine struct {
	transcriber Transcriber
}

func NewEngine(t Transcriber) *Engine {
	return &Engine{transcriber: t}
}

// Run walks the temperature ladder until the merged confidence clears the
// policy minimum or the ladder is exhausted. Recordings classified as
// excellent get a single pass, extra passes buy nothing on clean audio.
func (e *Engine) Run(ctx context.Context, req TranscribeRequest, policy PassPolicy, quality schema.AudioQuality) (*MultiPassResult, error) {
	ladder := policy.Temperatures
	if len(ladder) == 0 {
		ladder = []float64{0}
	}
	if policy.MaxPasses > 0 && len(ladder) > policy.MaxPasses {
		ladder = ladder[:policy.MaxPasses]
	}
	if quality == schema.QualityExcellent {
		ladder = ladder[:1]
	}

	var passes []PassResult
	var merged schema.TranscriptionResult
	var disagreement float64

	for _, temperature := range ladder {
		req.Temperature = temperature
		pass, err := e.transcriber.TranscribePass(ctx, req)
		if err != nil {
			if len(passes) == 0 {
				return nil, err
			}
			// Later passes only refine an existing result, losing one is
			// not worth failing the job over.
			log.Warn().Err(err).
				Float64("temperature", temperature).
				Int("completed_passes", len(passes)).
				Msg("refinement pass failed, merging completed passes")
			break
		}
		passes = append(passes, *pass)

		merged, disagreement = mergePasses(passes)
		if merged.AvgConfidence() >= policy.MinConfidence {
			break
		}
	}

	return &MultiPassResult{
		Result:       merged,
		Passes:       len(passes),
		Disagreement: disagreement,
	}, nil
}

// mergePasses aligns segments across passes by timestamp midpoint and picks
// per span the majority text, falling back to the highest confidence
// candidate. Ties go to the earliest (lowest temperature) pass, which makes
// the merge deterministic for identical inputs.
func mergePasses(passes []PassResult) (schema.TranscriptionResult, float64) {
	if len(passes) == 1 {
		return passes[0].Result, 0
	}

	spineIdx := 0
	for i, pass := range passes {
		if len(pass.Result.Segments) > len(passes[spineIdx].Result.Segments) {
			spineIdx = i
		}
	}
	spine := passes[spineIdx].Result.Segments

	merged := schema.TranscriptionResult{
		Language: passes[0].Result.Language,
	}
	for _, pass := range passes {
		if pass.Result.Duration > merged.Duration {
			merged.Duration = pass.Result.Duration
		}
	}

	disagreed := 0
	texts := make([]string, 0, len(spine))
	for idx, anchor := range spine {
		candidates := alignCandidates(anchor, passes, spineIdx)
		chosen := chooseCandidate(candidates, len(passes))
		if distinctTexts(candidates) > 1 {
			disagreed++
		}

		seg := chosen
		seg.Index = idx
		merged.Segments = append(merged.Segments, seg)
		texts = append(texts, seg.Text)
	}
	merged.Text = strings.Join(texts, " ")

	var ratio float64
	if len(spine) > 0 {
		ratio = float64(disagreed) / float64(len(spine))
	}
	return merged, ratio
}

// alignCandidates collects, for one spine segment, the nearest segment of
// every pass whose midpoint falls within the alignment tolerance. The spine's
// own segment is always first so earliest-pass tie breaks hold.
func alignCandidates(anchor schema.TranscriptSegment, passes []PassResult, spineIdx int) []schema.TranscriptSegment {
	tolerance := (anchor.End - anchor.Start) / 2
	if tolerance < time.Second {
		tolerance = time.Second
	}
	anchorMid := midpoint(anchor)

	candidates := []schema.TranscriptSegment{anchor}
	for i, pass := range passes {
		if i == spineIdx {
			continue
		}
		best := -1
		var bestDist time.Duration
		for j, seg := range pass.Result.Segments {
			dist := absDuration(midpoint(seg) - anchorMid)
			if dist > tolerance {
				continue
			}
			if best < 0 || dist < bestDist {
				best = j
				bestDist = dist
			}
		}
		if best >= 0 {
			candidates = append(candidates, pass.Result.Segments[best])
		}
	}
	return candidates
}

// chooseCandidate picks the majority text when at least three passes ran and
// more than half agree, otherwise the highest confidence candidate.
func chooseCandidate(candidates []schema.TranscriptSegment, passCount int) schema.TranscriptSegment {
	if len(candidates) == 1 {
		return candidates[0]
	}

	if passCount >= 3 {
		for _, c := range candidates {
			votes := 0
			for _, other := range candidates {
				if foldText(other.Text) == foldText(c.Text) {
					votes++
				}
			}
			if votes*2 > len(candidates) {
				return c
			}
		}
	}

	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.Confidence > best.Confidence {
			best = c
		}
	}
	return best
}

func distinctTexts(candidates []schema.TranscriptSegment) int {
	seen := make(map[string]struct{}, len(candidates))
	for _, c := range candidates {
		seen[foldText(c.Text)] = struct{}{}
	}
	return len(seen)
}

func foldText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func midpoint(seg schema.TranscriptSegment) time.Duration {
	return seg.Start + (seg.End-seg.Start)/2
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
