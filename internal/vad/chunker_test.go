package vad

import "testing"

func TestChunker_Split_ShortInput(t *testing.T) {
	c := NewChunker(ChunkerConfig{FrameSamples: 4})
	samples := speechSamples(100)

	chunks, err := c.Split(samples, 3200)
	if err != nil {
		t.Fatalf("Split() error = %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("chunks = %d, want 1", len(chunks))
	}
	if chunks[0].Offset != 0 || len(chunks[0].Samples) != 100 {
		t.Errorf("chunk = offset %d len %d, want offset 0 len 100", chunks[0].Offset, len(chunks[0].Samples))
	}
}

func TestChunker_Split_CutsAtSilence(t *testing.T) {
	c := NewChunker(ChunkerConfig{FrameSamples: 4})

	// 48 samples, window 32. The second half of the first window has
	// silence in frames [20,28); the cut lands in its middle at 24.
	samples := speechSamples(48)
	for i := 20; i < 28; i++ {
		samples[i] = 0
	}

	chunks, err := c.Split(samples, 32)
	if err != nil {
		t.Fatalf("Split() error = %v", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("chunks = %d, want 2", len(chunks))
	}
	if chunks[0].Offset != 0 || len(chunks[0].Samples) != 24 {
		t.Errorf("chunk 0 = offset %d len %d, want offset 0 len 24", chunks[0].Offset, len(chunks[0].Samples))
	}
	if chunks[1].Offset != 24 || len(chunks[1].Samples) != 24 {
		t.Errorf("chunk 1 = offset %d len %d, want offset 24 len 24", chunks[1].Offset, len(chunks[1].Samples))
	}
}

func TestChunker_Split_NoSilenceCutsAtMax(t *testing.T) {
	c := NewChunker(ChunkerConfig{FrameSamples: 4})
	samples := speechSamples(48)

	chunks, err := c.Split(samples, 32)
	if err != nil {
		t.Fatalf("Split() error = %v", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("chunks = %d, want 2", len(chunks))
	}
	if len(chunks[0].Samples) != 32 || chunks[1].Offset != 32 {
		t.Errorf("chunks = len %d / offset %d, want 32 / 32", len(chunks[0].Samples), chunks[1].Offset)
	}
}

func TestChunker_Split_NeverExceedsMax(t *testing.T) {
	c := NewChunker(ChunkerConfig{FrameSamples: 4})

	samples := speechSamples(200)
	for i := 0; i < len(samples); i += 40 {
		// A silent frame every 40 samples.
		for j := i + 20; j < i+24 && j < len(samples); j++ {
			samples[j] = 0
		}
	}

	chunks, err := c.Split(samples, 32)
	if err != nil {
		t.Fatalf("Split() error = %v", err)
	}
	total := 0
	for i, ch := range chunks {
		if len(ch.Samples) > 32 {
			t.Errorf("chunk %d len = %d, want <= 32", i, len(ch.Samples))
		}
		if ch.Offset != total {
			t.Errorf("chunk %d offset = %d, want %d", i, ch.Offset, total)
		}
		total += len(ch.Samples)
	}
	if total != len(samples) {
		t.Errorf("chunks cover %d samples, want %d", total, len(samples))
	}
}

func TestChunker_Split_MaxBelowFrame(t *testing.T) {
	c := NewChunker(ChunkerConfig{})
	if _, err := c.Split(speechSamples(100), 100); err == nil {
		t.Error("Split() error = nil, want error for max below analysis frame")
	}
}

func TestChunker_DefaultsToEnergyDetector(t *testing.T) {
	c := NewChunker(ChunkerConfig{})
	chunks, err := c.Split(speechSamples(1600), DefaultFrameSamples)
	if err != nil {
		t.Fatalf("Split() error = %v", err)
	}
	if len(chunks) != 1 {
		t.Errorf("chunks = %d, want 1", len(chunks))
	}
}
