package synth

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
)

type fakeSynthesizer struct{}

func (fakeSynthesizer) Synthesize(ctx context.Context, req SynthesisRequest, probe func() bool) ([]float64, int, error) {
	return []float64{0}, 24000, nil
}

// fakeLoader counts loads and records releases so cache behavior is
// observable from the outside.
type fakeLoader struct {
	loads    int
	released []string
	failFor  string
}

func (l *fakeLoader) Load(modelName string) (*Handle, error) {
	if modelName == l.failFor {
		return nil, ErrModelLoad
	}
	l.loads++
	name := modelName
	return NewHandle(name, FamilyFor(name), fakeSynthesizer{}, func() {
		l.released = append(l.released, name)
	}), nil
}

func newTestCache(loader Loader) *Cache {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return NewCache(loader, log)
}

func TestCacheAcquireSameModelLoadsOnce(t *testing.T) {
	loader := &fakeLoader{}
	cache := newTestCache(loader)

	h1, err := cache.Acquire("VibeVoice-1.5B")
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	h2, err := cache.Acquire("VibeVoice-1.5B")
	if err != nil {
		t.Fatalf("second acquire: %v", err)
	}

	if h1 != h2 {
		t.Fatal("expected the resident handle to be reused")
	}
	if loader.loads != 1 {
		t.Fatalf("expected 1 load, got %d", loader.loads)
	}
	if len(loader.released) != 0 {
		t.Fatalf("nothing should have been released, got %v", loader.released)
	}
}

func TestCacheAcquireDifferentModelEvictsResident(t *testing.T) {
	loader := &fakeLoader{}
	cache := newTestCache(loader)

	if _, err := cache.Acquire("VibeVoice-1.5B"); err != nil {
		t.Fatalf("acquire first model: %v", err)
	}
	h, err := cache.Acquire("VibeVoice-Large")
	if err != nil {
		t.Fatalf("acquire second model: %v", err)
	}

	if h.ModelName != "VibeVoice-Large" {
		t.Fatalf("wrong model resident: %s", h.ModelName)
	}
	if len(loader.released) != 1 || loader.released[0] != "VibeVoice-1.5B" {
		t.Fatalf("expected first model released before second load, got %v", loader.released)
	}
	if got := cache.Resident(); got != "VibeVoice-Large" {
		t.Fatalf("Resident() = %q", got)
	}
}

func TestCacheLoadFailureLeavesSlotEmpty(t *testing.T) {
	loader := &fakeLoader{failFor: "broken-model"}
	cache := newTestCache(loader)

	if _, err := cache.Acquire("VibeVoice-1.5B"); err != nil {
		t.Fatalf("acquire good model: %v", err)
	}
	if _, err := cache.Acquire("broken-model"); !errors.Is(err, ErrModelLoad) {
		t.Fatalf("expected ErrModelLoad, got %v", err)
	}

	// The previous resident was evicted before the failed load, so the
	// slot must now be empty rather than still holding the old model.
	if got := cache.Resident(); got != "" {
		t.Fatalf("expected empty slot after failed load, got %q", got)
	}
}

func TestCacheClose(t *testing.T) {
	loader := &fakeLoader{}
	cache := newTestCache(loader)

	if _, err := cache.Acquire("VibeVoice-1.5B"); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	cache.Close()

	if len(loader.released) != 1 {
		t.Fatalf("expected resident released on close, got %v", loader.released)
	}
	if got := cache.Resident(); got != "" {
		t.Fatalf("expected empty slot after close, got %q", got)
	}
}

func TestFamilyFor(t *testing.T) {
	tests := []struct {
		model string
		want  Family
	}{
		{"VibeVoice-Realtime", FamilyRealtime},
		{"VibeVoice-0.5B", FamilyRealtime},
		{"VibeVoice-1.5B", FamilyStandard},
		{"VibeVoice-Large", FamilyStandard},
		{"kokoro-82M", FamilyPipeline},
		{"some-other-model", FamilyPipeline},
	}
	for _, tt := range tests {
		if got := FamilyFor(tt.model); got != tt.want {
			t.Errorf("FamilyFor(%q) = %v, want %v", tt.model, got, tt.want)
		}
	}
}
