package audit

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"time"
)

// Stats represents journal statistics
type Stats struct {
	TotalFiles      int
	TotalSizeBytes  int64
	OldestFile      time.Time
	NewestFile      time.Time
	CurrentFileSize int64

	SequenceCount int64
	FirstSequence int64
	LastSequence  int64

	WritesPerFile map[string]int
}

// GetStats returns current journal statistics
func (l *Log) GetStats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.collectStats()
}

// collectStats gathers all statistics
func (l *Log) collectStats() Stats {
	stats := Stats{
		LastSequence: l.sequence,
	}

	l.collectFileStats(&stats)
	l.collectSequenceStats(&stats)

	return stats
}

// collectFileStats gathers file-related statistics
func (l *Log) collectFileStats(stats *Stats) {
	files := l.listFiles()
	stats.TotalFiles = len(files)

	if len(files) == 0 {
		return
	}

	stats.TotalSizeBytes = calculateTotalSize(files)
	stats.OldestFile, stats.NewestFile = findTimeRange(files)
	stats.CurrentFileSize = l.getCurrentFileSize()
}

// collectSequenceStats gathers sequence-related statistics
func (l *Log) collectSequenceStats(stats *Stats) {
	if stats.TotalFiles == 0 {
		return
	}

	files := l.listFiles()
	stats.FirstSequence = findFirstSequenceInFiles(files)
	if stats.LastSequence >= stats.FirstSequence {
		stats.SequenceCount = stats.LastSequence - stats.FirstSequence + 1
	} else {
		stats.SequenceCount = 0
	}
	stats.WritesPerFile = countWritesPerFile(files)
}

// countWritesPerFile counts entries in each file
func countWritesPerFile(files []string) map[string]int {
	counts := make(map[string]int)

	for _, file := range files {
		counts[filepath.Base(file)] = countEntriesInFile(file)
	}

	return counts
}

// countEntriesInFile counts entries in a single file
func countEntriesInFile(path string) int {
	reader, err := NewReader(path)
	if err != nil {
		return 0
	}
	defer func() { _ = reader.Close() }()

	count := 0
	for {
		_, err := reader.Next()
		if err != nil {
			break
		}
		count++
	}

	return count
}

// GetStatsFromDir returns statistics for a journal directory without an open journal
func GetStatsFromDir(dir string, config Config) Stats {
	stats := Stats{}

	files := findAllFiles(dir, config.FilePrefix)
	if len(files) == 0 {
		return stats
	}

	stats.TotalFiles = len(files)
	stats.TotalSizeBytes = calculateTotalSize(files)
	stats.OldestFile, stats.NewestFile = findTimeRange(files)

	stats.FirstSequence = findFirstSequenceInFiles(files)
	stats.LastSequence = findLastSequenceInFiles(files)
	if stats.LastSequence < stats.FirstSequence {
		stats.SequenceCount = 0
	} else {
		stats.SequenceCount = stats.LastSequence - stats.FirstSequence + 1
	}
	stats.WritesPerFile = countWritesPerFile(files)

	return stats
}

// findFirstSequenceInFiles finds lowest sequence across files
func findFirstSequenceInFiles(files []string) int64 {
	if len(files) == 0 {
		return 0
	}

	reader, err := NewReader(files[0])
	if err != nil {
		return 0
	}
	defer func() { _ = reader.Close() }()

	entry, err := reader.Next()
	if err != nil {
		return 0
	}

	return entry.Sequence
}

// findLastSequenceInFiles finds highest sequence across files
func findLastSequenceInFiles(files []string) int64 {
	maxSeq := int64(0)

	for _, file := range files {
		fileMax := getMaxSequenceFromFile(file)
		if fileMax > maxSeq {
			maxSeq = fileMax
		}
	}

	return maxSeq
}

// scanMaxSequenceInFile returns the max sequence, skipping corrupted entries
func scanMaxSequenceInFile(reader *Reader) int64 {
	maxSeq := int64(0)
	for {
		entry, err := reader.Next()
		if err != nil {
			// A corrupt line already advanced the scanner, so skip it.
			// Scanner errors are sticky and would loop forever.
			var syntaxErr *json.SyntaxError
			if errors.As(err, &syntaxErr) {
				continue
			}
			break
		}
		if entry.Sequence > maxSeq {
			maxSeq = entry.Sequence
		}
	}
	return maxSeq
}

// getMaxSequenceFromFile reads file and returns max sequence
func getMaxSequenceFromFile(path string) int64 {
	reader, err := NewReader(path)
	if err != nil {
		return 0
	}
	defer func() { _ = reader.Close() }()

	return scanMaxSequenceInFile(reader)
}
