package engine

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

const defaultBufSize = 32 * 1024

// output is an opened destination shared by every sink spec that resolves to
// it. File outputs are keyed by absolute path so two installs never hold two
// writers on the same file.
type output interface {
	io.Writer
	Sync() error
	Close() error
}

// sinkHandle is a realized sink: an output plus the slog handler encoding
// records onto it.
type sinkHandle struct {
	spec    SinkSpec
	out     output
	handler slog.Handler
}

func newSinkHandle(spec SinkSpec, out output) *sinkHandle {
	opts := &slog.HandlerOptions{Level: slog.Level(LevelTrace)}
	var h slog.Handler
	if spec.Format == FormatJSON {
		h = slog.NewJSONHandler(out, opts)
	} else {
		h = slog.NewTextHandler(out, opts)
	}
	return &sinkHandle{spec: spec, out: out, handler: h}
}

func (s *sinkHandle) write(ctx context.Context, rec Record) error {
	r := slog.NewRecord(rec.Time, rec.Level.Slog(), rec.Message, 0)
	r.AddAttrs(slog.String("category", rec.Category))
	r.AddAttrs(rec.Attrs...)
	if err := s.handler.Handle(ctx, r); err != nil {
		return fmt.Errorf("sink %s: %w", s.spec.Name, err)
	}
	return nil
}

func outputKey(spec SinkSpec) string {
	if spec.Kind == SinkConsole {
		return SinkConsole
	}
	return SinkFile + ":" + spec.Path
}

// consoleOutput wraps the process console writer. Closing it is a no-op.
type consoleOutput struct {
	mu sync.Mutex
	w  io.Writer
}

func (c *consoleOutput) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.w.Write(p)
}

func (c *consoleOutput) Sync() error  { return nil }
func (c *consoleOutput) Close() error { return nil }

// fileOutput appends to a file with buffered I/O and optional size-based
// rotation. Every Write is flushed so an abrupt model swap loses nothing.
type fileOutput struct {
	mu       sync.Mutex
	path     string
	rotation Rotation
	f        *os.File
	w        *bufio.Writer
	written  int64
}

func openFileOutput(path string, rot Rotation) (*fileOutput, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("file output: mkdir %s: %w", filepath.Dir(path), err)
	}
	o := &fileOutput{path: path, rotation: rot}
	if err := o.openFile(); err != nil {
		return nil, err
	}
	return o, nil
}

func (o *fileOutput) setRotation(rot Rotation) {
	o.mu.Lock()
	o.rotation = rot
	o.mu.Unlock()
}

func (o *fileOutput) Write(p []byte) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.rotation.MaxSize > 0 && o.written > 0 && o.written+int64(len(p)) > o.rotation.MaxSize {
		if err := o.rotate(); err != nil {
			return 0, fmt.Errorf("file output: rotate: %w", err)
		}
	}
	n, err := o.w.Write(p)
	o.written += int64(n)
	if err != nil {
		return n, fmt.Errorf("file output: write: %w", err)
	}
	return n, o.w.Flush()
}

func (o *fileOutput) Sync() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.w.Flush(); err != nil {
		return err
	}
	return o.f.Sync()
}

func (o *fileOutput) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.w.Flush(); err != nil {
		o.f.Close()
		return fmt.Errorf("file output: flush: %w", err)
	}
	return o.f.Close()
}

func (o *fileOutput) openFile() error {
	f, err := os.OpenFile(o.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("file output: open %s: %w", o.path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("file output: stat %s: %w", o.path, err)
	}
	o.f = f
	o.w = bufio.NewWriterSize(f, defaultBufSize)
	o.written = info.Size()
	return nil
}

// rotate shifts {path}.N-1 → {path}.N down to the current file → {path}.1,
// dropping anything past MaxBackups, then reopens path.
func (o *fileOutput) rotate() error {
	if err := o.w.Flush(); err != nil {
		return err
	}
	if err := o.f.Close(); err != nil {
		return err
	}

	backups := o.rotation.MaxBackups
	if backups <= 0 {
		if err := os.Truncate(o.path, 0); err != nil {
			return err
		}
		o.written = 0
		return o.openFile()
	}

	os.Remove(fmt.Sprintf("%s.%d", o.path, backups))
	for i := backups - 1; i >= 1; i-- {
		os.Rename(fmt.Sprintf("%s.%d", o.path, i), fmt.Sprintf("%s.%d", o.path, i+1))
	}
	if err := os.Rename(o.path, o.path+".1"); err != nil {
		return err
	}
	o.written = 0
	return o.openFile()
}
