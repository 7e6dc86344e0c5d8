package audio_test

import (
	"os"
	"path/filepath"

	. "github.com/verbatimhq/verbatim/pkg/audio"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Audio identification", func() {
	var dir string

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
	})

	It("identifies wav containers by their RIFF magic", func() {
		path := filepath.Join(dir, "tone.wav")
		Expect(EncodeWAV(path, PCM{Samples: make([]int16, 1600), SampleRate: 16000})).To(Succeed())

		isAudio, ct := IdentifyFile(path)
		Expect(isAudio).To(BeTrue())
		Expect(ct).To(Equal("audio/wav"))
	})

	It("identifies mp3 content regardless of the file name", func() {
		path := filepath.Join(dir, "upload.bin")
		Expect(os.WriteFile(path, append([]byte("ID3\x03\x00"), make([]byte, 32)...), 0o600)).To(Succeed())

		isAudio, ct := IdentifyFile(path)
		Expect(isAudio).To(BeTrue())
		Expect(ct).To(Equal("audio/mpeg"))
	})

	It("identifies flac content by magic", func() {
		path := filepath.Join(dir, "take.flac")
		Expect(os.WriteFile(path, append([]byte("fLaC"), make([]byte, 16)...), 0o600)).To(Succeed())

		isAudio, ct := IdentifyFile(path)
		Expect(isAudio).To(BeTrue())
		Expect(ct).To(Equal("audio/flac"))
	})

	It("falls back to the file extension when content sniffing fails", func() {
		path := filepath.Join(dir, "speech.ogg")
		Expect(os.WriteFile(path, []byte("not really ogg data"), 0o600)).To(Succeed())

		isAudio, ct := IdentifyFile(path)
		Expect(isAudio).To(BeTrue())
		Expect(ct).To(Equal("audio/ogg"))
	})

	It("rejects content that is not audio at all", func() {
		path := filepath.Join(dir, "notes.txt")
		Expect(os.WriteFile(path, []byte("meeting notes, plain text"), 0o600)).To(Succeed())

		isAudio, ct := IdentifyFile(path)
		Expect(isAudio).To(BeFalse())
		Expect(ct).To(BeEmpty())
	})
})
