package audit

import (
	"testing"
)

func TestFileRotation_SequenceContinuity(t *testing.T) {
	dir := t.TempDir()

	config := DefaultConfig()
	config.MaxFileSize = 500 // Very small to force rotation

	l, err := OpenWithConfig(dir, config)
	if err != nil {
		t.Fatalf("Failed to open journal: %v", err)
	}
	defer func() { _ = l.Close() }()

	for i := 0; i < 20; i++ {
		_ = l.Append(EventStatusChanged, "w-1", "", "some data")
	}

	if l.sequence != 20 {
		t.Errorf("Expected sequence 20, got %d", l.sequence)
	}

	if len(l.listFiles()) < 2 {
		t.Errorf("Expected rotation to produce multiple files, got %d", len(l.listFiles()))
	}

	// All entries remain readable across files
	count := 0
	for _, file := range l.listFiles() {
		reader, err := NewReader(file)
		if err != nil {
			t.Fatalf("Failed to open reader: %v", err)
		}
		for {
			if _, err := reader.Next(); err != nil {
				break
			}
			count++
		}
		_ = reader.Close()
	}

	if count != 20 {
		t.Errorf("Expected 20 entries across all files, got %d", count)
	}
}

func TestFileRotation_NoRotationWhenBelowLimit(t *testing.T) {
	dir := t.TempDir()

	config := DefaultConfig()
	config.MaxFileSize = 100 * 1024 * 1024

	l, err := OpenWithConfig(dir, config)
	if err != nil {
		t.Fatalf("Failed to open journal: %v", err)
	}
	defer func() { _ = l.Close() }()

	for i := 0; i < 10; i++ {
		_ = l.Append(EventStatusChanged, "w-1", "", "data")
	}

	files := l.listFiles()
	if len(files) != 1 {
		t.Errorf("Expected 1 journal file (no rotation), got %d", len(files))
	}
}
