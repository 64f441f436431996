package synth

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeVoiceFile(t *testing.T, dir, name string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", dir, err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), []byte("voice"), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestResolveVoiceStandard(t *testing.T) {
	root := t.TempDir()
	writeVoiceFile(t, root, "en-Alice.wav")

	path, err := ResolveVoice(root, FamilyStandard, "en-Alice")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if filepath.Base(path) != "en-Alice.wav" {
		t.Fatalf("unexpected path %s", path)
	}
}

func TestResolveVoiceRealtimeUsesStreamingDir(t *testing.T) {
	root := t.TempDir()
	writeVoiceFile(t, filepath.Join(root, "streaming_model"), "en-Carter.pt")

	path, err := ResolveVoice(root, FamilyRealtime, "en-Carter")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if filepath.Base(path) != "en-Carter.pt" {
		t.Fatalf("unexpected path %s", path)
	}
}

func TestResolveVoiceEmpty(t *testing.T) {
	root := t.TempDir()

	path, err := ResolveVoice(root, FamilyStandard, "")
	if err != nil || path != "" {
		t.Fatalf("expected default voice, got path=%q err=%v", path, err)
	}

	if _, err := ResolveVoice(root, FamilyRealtime, ""); !errors.Is(err, ErrInvalidVoice) {
		t.Fatalf("realtime without voice should fail, got %v", err)
	}
}

func TestResolveVoiceRejectsTraversal(t *testing.T) {
	root := t.TempDir()
	writeVoiceFile(t, root, "en-Alice.wav")

	for _, voice := range []string{
		"../en-Alice",
		"../../etc/passwd",
		"sub/en-Alice",
		".",
		"..",
	} {
		if _, err := ResolveVoice(root, FamilyStandard, voice); !errors.Is(err, ErrInvalidVoice) {
			t.Errorf("ResolveVoice(%q) = %v, want ErrInvalidVoice", voice, err)
		}
	}
}

func TestResolveVoiceUnknown(t *testing.T) {
	root := t.TempDir()

	if _, err := ResolveVoice(root, FamilyStandard, "no-such-voice"); !errors.Is(err, ErrInvalidVoice) {
		t.Fatalf("expected ErrInvalidVoice for missing asset, got %v", err)
	}
}

func TestListVoicesEnglishFirst(t *testing.T) {
	root := t.TempDir()
	for _, name := range []string{"zh-Mei.wav", "en-Alice.wav", "de-Hans.wav", "en-Bob.wav"} {
		writeVoiceFile(t, root, name)
	}
	writeVoiceFile(t, root, "notes.txt") // wrong extension, skipped

	voices, err := ListVoices(root, FamilyStandard)
	if err != nil {
		t.Fatalf("list: %v", err)
	}

	want := []string{"en-Alice", "en-Bob", "de-Hans", "zh-Mei"}
	if len(voices) != len(want) {
		t.Fatalf("got %v, want %v", voices, want)
	}
	for i := range want {
		if voices[i] != want[i] {
			t.Fatalf("got %v, want %v", voices, want)
		}
	}
}

func TestListVoicesMissingDir(t *testing.T) {
	voices, err := ListVoices(filepath.Join(t.TempDir(), "absent"), FamilyStandard)
	if err != nil {
		t.Fatalf("missing directory should not error: %v", err)
	}
	if len(voices) != 0 {
		t.Fatalf("expected no voices, got %v", voices)
	}
}
