package backend_test

import (
	"time"

	"github.com/verbatimhq/verbatim/core/backend"
	"github.com/verbatimhq/verbatim/core/schema"
	"github.com/verbatimhq/verbatim/pkg/audio"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func pcmOfDuration(d time.Duration, rate int) audio.PCM {
	return audio.PCM{Samples: make([]int16, int(d.Seconds()*float64(rate))), SampleRate: rate}
}

var _ = Describe("Chunking", func() {
	Describe("SplitPCM", func() {
		It("returns the recording untouched when it fits one chunk", func() {
			pcm := pcmOfDuration(3*time.Minute, 16000)
			chunks := backend.SplitPCM(pcm, 10*time.Minute, 5*time.Second)
			Expect(chunks).To(HaveLen(1))
			Expect(chunks[0].Offset).To(BeZero())
			Expect(chunks[0].PCM.Duration()).To(Equal(pcm.Duration()))
		})

		It("cuts overlapping chunks that cover the whole recording", func() {
			pcm := pcmOfDuration(25*time.Minute, 16000)
			chunkDur := 10 * time.Minute
			overlap := 5 * time.Second

			chunks := backend.SplitPCM(pcm, chunkDur, overlap)
			Expect(chunks).To(HaveLen(3))

			step := chunkDur - overlap
			for i, c := range chunks {
				Expect(c.Index).To(Equal(i))
				Expect(c.Offset).To(Equal(time.Duration(i) * step))
			}
			Expect(chunks[0].PCM.Duration()).To(Equal(chunkDur))
			Expect(chunks[1].PCM.Duration()).To(Equal(chunkDur))

			last := chunks[2]
			Expect(last.Offset + last.PCM.Duration()).To(Equal(pcm.Duration()))

			// Consecutive chunks overlap by the configured amount.
			Expect(chunks[0].Offset + chunks[0].PCM.Duration() - chunks[1].Offset).To(Equal(overlap))
		})

		It("folds a short tail into the previous chunk", func() {
			pcm := pcmOfDuration(10*time.Minute+4*time.Second, 16000)
			chunks := backend.SplitPCM(pcm, 10*time.Minute, 5*time.Second)

			Expect(chunks).To(HaveLen(1))
			Expect(chunks[0].PCM.Duration()).To(Equal(pcm.Duration()))
		})
	})

	Describe("MergeChunkResults", func() {
		It("shifts segments onto the recording timeline and reindexes", func() {
			results := []backend.ChunkResult{
				{
					Chunk: backend.Chunk{Index: 0, Offset: 0},
					Result: schema.TranscriptionResult{
						Language: "en",
						Duration: 60 * time.Second,
						Segments: []schema.TranscriptSegment{
							seg(0, 4, "welcome everyone", 0.9),
							seg(55, 59, "moving on", 0.85),
						},
					},
				},
				{
					Chunk: backend.Chunk{Index: 1, Offset: 55 * time.Second},
					Result: schema.TranscriptionResult{
						Duration: 30 * time.Second,
						Segments: []schema.TranscriptSegment{
							seg(5, 9, "the next topic", 0.8),
						},
					},
				},
			}

			merged := backend.MergeChunkResults(results)
			Expect(merged.Language).To(Equal("en"))
			Expect(merged.Duration).To(Equal(85 * time.Second))
			Expect(merged.Segments).To(HaveLen(3))
			Expect(merged.Segments[2].Start).To(Equal(60 * time.Second))
			for i, s := range merged.Segments {
				Expect(s.Index).To(Equal(i))
			}
			Expect(merged.Text).To(Equal("welcome everyone moving on the next topic"))
		})

		It("drops the later chunk's copy of an utterance duplicated by the overlap", func() {
			results := []backend.ChunkResult{
				{
					Chunk: backend.Chunk{Index: 0, Offset: 0},
					Result: schema.TranscriptionResult{
						Duration: 600 * time.Second,
						Segments: []schema.TranscriptSegment{
							seg(590, 594, "let us wrap this up", 0.9),
							seg(596, 599, "thanks for joining", 0.9),
						},
					},
				},
				{
					Chunk: backend.Chunk{Index: 1, Offset: 595 * time.Second},
					Result: schema.TranscriptionResult{
						Duration: 60 * time.Second,
						Segments: []schema.TranscriptSegment{
							// 595 + 1.1 = 596.1, within 250ms of the earlier 596.
							seg(1.1, 4.1, "Thanks for joining", 0.8),
							seg(5, 8, "see you next week", 0.85),
						},
					},
				},
			}

			merged := backend.MergeChunkResults(results)
			Expect(merged.Segments).To(HaveLen(3))
			// The earlier chunk's reading survives.
			Expect(merged.Segments[1].Text).To(Equal("thanks for joining"))
			Expect(merged.Segments[2].Text).To(Equal("see you next week"))
		})

		It("keeps near-boundary segments whose text differs", func() {
			results := []backend.ChunkResult{
				{
					Chunk: backend.Chunk{Index: 0, Offset: 0},
					Result: schema.TranscriptionResult{
						Duration: 600 * time.Second,
						Segments: []schema.TranscriptSegment{seg(596, 599, "thanks for joining", 0.9)},
					},
				},
				{
					Chunk: backend.Chunk{Index: 1, Offset: 595 * time.Second},
					Result: schema.TranscriptionResult{
						Duration: 60 * time.Second,
						Segments: []schema.TranscriptSegment{seg(1.1, 4.1, "some different words", 0.8)},
					},
				},
			}

			merged := backend.MergeChunkResults(results)
			Expect(merged.Segments).To(HaveLen(2))
		})

		It("shifts word timestamps along with their segment", func() {
			withWords := seg(0, 2, "hello there", 0.9)
			withWords.Words = []schema.TranscriptWord{
				{Word: "hello", Start: 0, End: time.Second},
				{Word: "there", Start: time.Second, End: 2 * time.Second},
			}
			results := []backend.ChunkResult{
				{
					Chunk:  backend.Chunk{Index: 1, Offset: 30 * time.Second},
					Result: schema.TranscriptionResult{Duration: 10 * time.Second, Segments: []schema.TranscriptSegment{withWords}},
				},
			}

			merged := backend.MergeChunkResults(results)
			Expect(merged.Segments[0].Words[0].Start).To(Equal(30 * time.Second))
			Expect(merged.Segments[0].Words[1].End).To(Equal(32 * time.Second))
		})
	})
})
