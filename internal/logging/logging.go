// Package logging provides the structured logger every other package logs
// through: console output at the configured level, plus a gzip-rotating
// error-only file sink for post-mortem debugging.
//
// The rotation/archival mechanics (gzip on rotate, prune to maxBackups,
// RecentLines/ListArchives for introspection) are kept close to
// internal/errlog/errlog.go's errorLogger, rewired as a zapcore.WriteSyncer
// instead of a package-level singleton so a process can run more than one
// index instance's logger without global state.
package logging

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	logFileName = "error.log"

	defaultMaxRotSize = 100 << 20 // 100 MB
	defaultMaxBackups = 5
)

// rotatingFile is a zapcore.WriteSyncer that gzip-rotates itself once it
// crosses maxRotSize, keeping at most maxBackups compressed archives.
type rotatingFile struct {
	mu         sync.Mutex
	file       *os.File
	dir        string
	path       string
	size       int64
	maxRotSize int64
	maxBackups int
}

func newRotatingFile(dir string, maxRotSizeMB, maxBackups int) (*rotatingFile, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("logging: create log dir %s: %w", dir, err)
	}
	path := filepath.Join(dir, logFileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("logging: open log file %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("logging: stat log file: %w", err)
	}
	maxRotSize := int64(maxRotSizeMB) << 20
	if maxRotSize <= 0 {
		maxRotSize = defaultMaxRotSize
	}
	if maxBackups <= 0 {
		maxBackups = defaultMaxBackups
	}
	return &rotatingFile{file: f, dir: dir, path: path, size: info.Size(), maxRotSize: maxRotSize, maxBackups: maxBackups}, nil
}

// Write implements zapcore.WriteSyncer.
func (r *rotatingFile) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return 0, fmt.Errorf("logging: write to closed rotating file")
	}
	n, err := r.file.Write(p)
	r.size += int64(n)
	if err == nil && r.size >= r.maxRotSize {
		r.rotate()
	}
	return n, err
}

// Sync implements zapcore.WriteSyncer.
func (r *rotatingFile) Sync() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	return r.file.Sync()
}

// rotate compresses the current file into a timestamped archive and
// reopens an empty one. Caller must hold r.mu.
func (r *rotatingFile) rotate() {
	r.file.Sync()
	r.file.Close()
	r.file = nil

	ts := time.Now().Format("20060102-150405")
	archivePath := filepath.Join(r.dir, fmt.Sprintf("error-%s.log.gz", ts))
	compressFile(r.path, archivePath)
	os.Truncate(r.path, 0)
	r.pruneArchives()

	f, err := os.OpenFile(r.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return // logger is effectively dead until the process restarts
	}
	r.file = f
	r.size = 0
}

func (r *rotatingFile) pruneArchives() {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return
	}
	var archives []string
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, "error-") && strings.HasSuffix(name, ".log.gz") {
			archives = append(archives, name)
		}
	}
	if len(archives) <= r.maxBackups {
		return
	}
	sort.Strings(archives)
	for _, name := range archives[:len(archives)-r.maxBackups] {
		os.Remove(filepath.Join(r.dir, name))
	}
}

func (r *rotatingFile) close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	r.file.Sync()
	err := r.file.Close()
	r.file = nil
	return err
}

func compressFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	gw, err := gzip.NewWriterLevel(out, gzip.BestSpeed)
	if err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	if _, err := io.Copy(gw, in); err != nil {
		gw.Close()
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := gw.Close(); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return err
	}
	return nil
}

// Logger wraps a *zap.Logger plus a handle on the rotating error file so
// RecentLines/ListArchives stay available for a stat/debug endpoint.
type Logger struct {
	*zap.Logger
	errFile *rotatingFile
}

// Options configures New.
type Options struct {
	Dir          string        // directory holding error.log + its archives
	Level        zapcore.Level // console level; the file sink is always error-and-above
	MaxRotSizeMB int           // rotation threshold, default 100MB
	MaxBackups   int           // archives to retain, default 5
}

// New builds a console-plus-rotating-file logger: info-and-above (or
// whatever Options.Level names) goes to stderr in a human console
// encoding, while only error-and-above is duplicated into the gzip-rotated
// file, matching the teacher's "only ERROR level messages are recorded"
// file policy but generalized to a full leveled logger for everything
// else (spec.md's ambient stack has no precedent for this split; it is
// carried over verbatim from internal/errlog's original intent).
func New(opts Options) (*Logger, error) {
	errFile, err := newRotatingFile(opts.Dir, opts.MaxRotSizeMB, opts.MaxBackups)
	if err != nil {
		return nil, err
	}

	consoleConfig := zap.NewDevelopmentEncoderConfig()
	consoleCore := zapcore.NewCore(zapcore.NewConsoleEncoder(consoleConfig), zapcore.AddSync(os.Stderr), opts.Level)

	fileConfig := zap.NewProductionEncoderConfig()
	fileConfig.TimeKey = "ts"
	fileConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	fileCore := zapcore.NewCore(zapcore.NewJSONEncoder(fileConfig), errFile, zapcore.ErrorLevel)

	core := zapcore.NewTee(consoleCore, fileCore)
	return &Logger{Logger: zap.New(core), errFile: errFile}, nil
}

// Close flushes and closes the rotating error file.
func (l *Logger) Close() error {
	l.Logger.Sync()
	return l.errFile.close()
}

// RecentLines reads the last n JSON log lines from the current error file,
// oldest first, for a stat/debug endpoint to surface without shelling out
// to the filesystem.
func (l *Logger) RecentLines(n int) ([]string, error) {
	if n <= 0 {
		n = 50
	}
	l.errFile.mu.Lock()
	path := l.errFile.path
	l.errFile.mu.Unlock()

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := info.Size()
	if size == 0 {
		return []string{}, nil
	}

	const maxRead = 256 * 1024
	readStart := int64(0)
	if size > maxRead {
		readStart = size - maxRead
	}
	buf := make([]byte, size-readStart)
	if _, err := f.ReadAt(buf, readStart); err != nil && err != io.EOF {
		return nil, err
	}

	lines := make([]string, 0, n)
	end := len(buf)
	if end > 0 && buf[end-1] == '\n' {
		end--
	}
	for i := end - 1; i >= 0 && len(lines) < n; i-- {
		if buf[i] == '\n' {
			if line := string(buf[i+1 : end]); line != "" {
				lines = append(lines, line)
			}
			end = i
		}
	}
	if len(lines) < n && end > 0 {
		if line := string(buf[:end]); line != "" {
			lines = append(lines, line)
		}
	}
	for i, j := 0, len(lines)-1; i < j; i, j = i+1, j-1 {
		lines[i], lines[j] = lines[j], lines[i]
	}
	return lines, nil
}

// ListArchives returns the names of compressed log archives, oldest first.
func (l *Logger) ListArchives() ([]string, error) {
	l.errFile.mu.Lock()
	dir := l.errFile.dir
	l.errFile.mu.Unlock()

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, err
	}
	var archives []string
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, "error-") && strings.HasSuffix(name, ".log.gz") {
			archives = append(archives, name)
		}
	}
	sort.Strings(archives)
	return archives, nil
}
