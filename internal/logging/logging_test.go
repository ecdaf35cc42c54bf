package logging

import (
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestConsoleAndFileSplitByLevel(t *testing.T) {
	dir := t.TempDir()
	l, err := New(Options{Dir: dir, Level: zapcore.InfoLevel})
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	l.Info("informational event", zapValueHint(1))
	l.Error("something broke", zapValueHint(2))
	l.Sync()

	data, err := os.ReadFile(filepath.Join(dir, logFileName))
	if err != nil {
		t.Fatal(err)
	}
	content := string(data)
	if strings.Contains(content, "informational event") {
		t.Errorf("error file should not contain info-level messages, got: %s", content)
	}
	if !strings.Contains(content, "something broke") {
		t.Errorf("error file should contain error-level messages, got: %s", content)
	}
}

func TestRotationProducesReadableArchive(t *testing.T) {
	dir := t.TempDir()
	l, err := New(Options{Dir: dir, Level: zapcore.InfoLevel, MaxRotSizeMB: 0})
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	// Force the size counter near the threshold directly, mirroring the
	// teacher's approach of manipulating the logger's size field rather
	// than writing 100MB of data in a test.
	l.errFile.mu.Lock()
	l.errFile.size = l.errFile.maxRotSize - 10
	l.errFile.mu.Unlock()

	l.Error("this message triggers rotation")
	l.Sync()

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	var gzFiles []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".log.gz") {
			gzFiles = append(gzFiles, e.Name())
		}
	}
	if len(gzFiles) == 0 {
		t.Fatal("expected at least one .gz archive after rotation, found none")
	}

	gf, err := os.Open(filepath.Join(dir, gzFiles[0]))
	if err != nil {
		t.Fatal(err)
	}
	defer gf.Close()
	gr, err := gzip.NewReader(gf)
	if err != nil {
		t.Fatalf("invalid gzip archive: %v", err)
	}
	defer gr.Close()
	content, err := io.ReadAll(gr)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(content), "triggers rotation") {
		t.Errorf("archive missing expected message, got: %s", content)
	}
}

func TestPruneArchivesKeepsMaxBackups(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < defaultMaxBackups+3; i++ {
		name := filepath.Join(dir, strings.Replace("error-20260101-00000X.log.gz", "X", string(rune('0'+i)), 1))
		os.WriteFile(name, []byte("fake"), 0644)
	}

	rf := &rotatingFile{dir: dir, maxBackups: defaultMaxBackups}
	rf.pruneArchives()

	entries, _ := os.ReadDir(dir)
	var remaining int
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".log.gz") {
			remaining++
		}
	}
	if remaining != defaultMaxBackups {
		t.Errorf("expected %d archives after prune, got %d", defaultMaxBackups, remaining)
	}
}

func TestRecentLinesReturnsOldestFirst(t *testing.T) {
	dir := t.TempDir()
	l, err := New(Options{Dir: dir, Level: zapcore.InfoLevel})
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	l.Error("first")
	l.Error("second")
	l.Error("third")
	l.Sync()

	lines, err := l.RecentLines(2)
	if err != nil {
		t.Fatal(err)
	}
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}
	if !strings.Contains(lines[0], "second") || !strings.Contains(lines[1], "third") {
		t.Errorf("got lines %v, want [second, third] oldest-first", lines)
	}
}

func zapValueHint(n int) zapcore.Field {
	return zapcore.Field{Key: "n", Type: zapcore.Int64Type, Integer: int64(n)}
}
