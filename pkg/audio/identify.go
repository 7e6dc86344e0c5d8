package audio

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dhowden/tag"
)

func extensionFromFileType(ft tag.FileType) string {
	switch ft {
	case tag.FLAC:
		return "flac"
	case tag.MP3:
		return "mp3"
	case tag.OGG:
		return "ogg"
	case tag.M4A:
		return "m4a"
	case tag.M4B:
		return "m4b"
	case tag.M4P:
		return "m4p"
	case tag.ALAC:
		return "m4a"
	default:
		return ""
	}
}

func contentTypeFromFileType(ft tag.FileType) string {
	switch ft {
	case tag.FLAC:
		return "audio/flac"
	case tag.MP3:
		return "audio/mpeg"
	case tag.OGG:
		return "audio/ogg"
	case tag.M4A, tag.M4B, tag.M4P, tag.ALAC:
		return "audio/mp4"
	default:
		return ""
	}
}

// Identify reads from r and returns the detected audio extension and
// Content-Type, or ("", "", err) when the stream is not recognizable audio.
// WAV containers carry no tags, so callers should try IsWAV first.
func Identify(r io.ReadSeeker) (ext string, contentType string, err error) {
	_, fileType, err := tag.Identify(r)
	if err != nil || fileType == tag.UnknownFileType {
		return "", "", err
	}
	ext = extensionFromFileType(fileType)
	contentType = contentTypeFromFileType(fileType)
	if ext == "" || contentType == "" {
		return "", "", nil
	}
	return ext, contentType, nil
}

// IsWAV sniffs the RIFF/WAVE magic at the start of r and rewinds.
func IsWAV(r io.ReadSeeker) bool {
	var magic [12]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return false
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return false
	}
	return string(magic[0:4]) == "RIFF" && string(magic[8:12]) == "WAVE"
}

// ContentTypeFromExtension returns the MIME type for common audio file
// extensions, as a fallback when content sniffing fails.
func ContentTypeFromExtension(path string) string {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	switch ext {
	case "flac":
		return "audio/flac"
	case "mp3":
		return "audio/mpeg"
	case "wav":
		return "audio/wav"
	case "ogg":
		return "audio/ogg"
	case "m4a", "m4b", "m4p":
		return "audio/mp4"
	case "webm":
		return "audio/webm"
	default:
		return ""
	}
}

// IdentifyFile sniffs the file at path. It reports whether the content looks
// like audio at all, plus the best known Content-Type.
func IdentifyFile(path string) (isAudio bool, contentType string) {
	f, err := os.Open(path)
	if err != nil {
		return false, ""
	}
	defer f.Close()

	if IsWAV(f) {
		return true, "audio/wav"
	}
	ext, ct, err := Identify(f)
	if err == nil && ext != "" {
		return true, ct
	}
	ct = ContentTypeFromExtension(path)
	return ct != "", ct
}
