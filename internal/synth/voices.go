package synth

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const streamingVoiceDir = "streaming_model"

// voiceLayout returns the directory and file extension holding voice assets
// for a model family.
func voiceLayout(root string, family Family) (dir, ext string) {
	if family == FamilyRealtime {
		return filepath.Join(root, streamingVoiceDir), ".pt"
	}
	return root, ".wav"
}

// ResolveVoice maps a caller-supplied voice id to the on-disk asset for the
// model family. Voice ids build filesystem paths, so this is a security
// boundary: an id that is not exactly its own base name, or that resolves
// outside the family's voice directory, is rejected before any lookup.
// Realtime models require a voice; other families accept an empty id and
// return an empty path.
func ResolveVoice(root string, family Family, voice string) (string, error) {
	if voice == "" {
		if family == FamilyRealtime {
			return "", fmt.Errorf("%w: voice is required for realtime models", ErrInvalidVoice)
		}
		return "", nil
	}

	if voice == "." || voice == ".." || filepath.Base(voice) != voice {
		return "", fmt.Errorf("%w: %q", ErrInvalidVoice, voice)
	}

	dir, ext := voiceLayout(root, family)
	path := filepath.Join(dir, voice+ext)

	absDir, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidVoice, voice)
	}
	absPath, err := filepath.Abs(path)
	if err != nil || !strings.HasPrefix(absPath, absDir+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrInvalidVoice, voice)
	}

	if _, err := os.Stat(absPath); err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidVoice, voice)
	}
	return absPath, nil
}

// ListVoices scans the family's voice directory and returns the available
// voice ids, English voices first, then alphabetically.
func ListVoices(root string, family Family) ([]string, error) {
	dir, ext := voiceLayout(root, family)

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan voice directory: %w", err)
	}

	voices := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ext) {
			continue
		}
		voices = append(voices, strings.TrimSuffix(name, ext))
	}

	sort.Slice(voices, func(i, j int) bool {
		iEn := strings.HasPrefix(voices[i], "en-")
		jEn := strings.HasPrefix(voices[j], "en-")
		if iEn != jEn {
			return iEn
		}
		return voices[i] < voices[j]
	})

	return voices, nil
}
