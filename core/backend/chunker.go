package backend

import (
	"sort"
	"strings"
	"time"

	"github.com/verbatimhq/verbatim/core/schema"
	"github.com/verbatimhq/verbatim/pkg/audio"
)

// boundaryTolerance is how close two segment starts must be, after shifting
// chunk results onto the recording timeline, to count as the same utterance
// duplicated by the chunk overlap.
const boundaryTolerance = 250 * time.Millisecond

// Chunk is one overlapping slice of a long recording.
type Chunk struct {
	Index  int
	Offset time.Duration
	PCM    audio.PCM
}

// ChunkResult pairs a chunk with its transcription.
type ChunkResult struct {
	Chunk  Chunk
	Result schema.TranscriptionResult
}

// SplitPCM cuts a recording into chunks of chunkDur that overlap by overlap,
// so no utterance is lost on a cut. A short tail is folded into the previous
// chunk instead of producing a runt.
func SplitPCM(pcm audio.PCM, chunkDur, overlap time.Duration) []Chunk {
	total := pcm.Duration()
	if total <= chunkDur {
		return []Chunk{{Index: 0, Offset: 0, PCM: pcm}}
	}

	step := chunkDur - overlap
	if step <= 0 {
		step = chunkDur
	}

	var chunks []Chunk
	for off := time.Duration(0); off < total; off += step {
		end := off + chunkDur
		if end >= total {
			end = total
		}
		if remaining := total - off; len(chunks) > 0 && remaining < overlap*2 {
			// Extend the previous chunk to cover the tail.
			prev := &chunks[len(chunks)-1]
			prev.PCM = pcm.Slice(prev.Offset, total)
			break
		}
		chunks = append(chunks, Chunk{
			Index:  len(chunks),
			Offset: off,
			PCM:    pcm.Slice(off, end),
		})
		if end == total {
			break
		}
	}
	return chunks
}

// MergeChunkResults reassembles per-chunk transcriptions onto the recording
// timeline. Utterances duplicated by the overlap are dropped from the later
// chunk: a segment is a duplicate when its shifted start is within the
// boundary tolerance of an already merged segment and the case-folded text
// matches.
func MergeChunkResults(results []ChunkResult) schema.TranscriptionResult {
	sorted := make([]ChunkResult, len(results))
	copy(sorted, results)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Chunk.Index < sorted[j].Chunk.Index })

	var merged schema.TranscriptionResult
	for _, cr := range sorted {
		if cr.Result.Language != "" && merged.Language == "" {
			merged.Language = cr.Result.Language
		}
		if end := cr.Chunk.Offset + cr.Result.Duration; end > merged.Duration {
			merged.Duration = end
		}

		for _, seg := range cr.Result.Segments {
			shifted := shiftSegment(seg, cr.Chunk.Offset)
			if isBoundaryDuplicate(merged.Segments, shifted) {
				continue
			}
			merged.Segments = append(merged.Segments, shifted)
		}
	}

	sort.SliceStable(merged.Segments, func(i, j int) bool {
		return merged.Segments[i].Start < merged.Segments[j].Start
	})
	texts := make([]string, 0, len(merged.Segments))
	for i := range merged.Segments {
		merged.Segments[i].Index = i
		texts = append(texts, merged.Segments[i].Text)
	}
	merged.Text = strings.Join(texts, " ")
	return merged
}

func shiftSegment(seg schema.TranscriptSegment, offset time.Duration) schema.TranscriptSegment {
	seg.Start += offset
	seg.End += offset
	if len(seg.Words) > 0 {
		words := make([]schema.TranscriptWord, len(seg.Words))
		copy(words, seg.Words)
		for i := range words {
			words[i].Start += offset
			words[i].End += offset
		}
		seg.Words = words
	}
	return seg
}

func isBoundaryDuplicate(mergedSegments []schema.TranscriptSegment, seg schema.TranscriptSegment) bool {
	// Only the merged tail can overlap the incoming chunk.
	for i := len(mergedSegments) - 1; i >= 0; i-- {
		prev := mergedSegments[i]
		if prev.End < seg.Start-boundaryTolerance {
			break
		}
		if absDuration(prev.Start-seg.Start) <= boundaryTolerance && foldText(prev.Text) == foldText(seg.Text) {
			return true
		}
	}
	return false
}
