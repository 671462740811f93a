package camera

import (
	"context"
	"fmt"
	"image"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// FrameSource produces still frames for a FrameDevice.
type FrameSource interface {
	Open(ctx context.Context) error
	// NextFrame returns ErrNoFrame when nothing new is available yet.
	NextFrame(ctx context.Context) (image.Image, error)
	Close() error
}

// DirSource reads frames from image files dropped into a directory. Each
// file is consumed once, in name order.
type DirSource struct {
	dir string

	mu   sync.Mutex
	seen map[string]bool
}

func NewDirSource(dir string) *DirSource {
	return &DirSource{dir: filepath.Clean(dir), seen: make(map[string]bool)}
}

func (s *DirSource) Open(ctx context.Context) error {
	info, err := os.Stat(s.dir)
	if err != nil {
		return fmt.Errorf("frame directory %s: %w", s.dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("frame directory %s is not a directory", s.dir)
	}
	// Frames already present belong to an earlier session.
	names, err := s.list()
	if err != nil {
		return err
	}
	s.mu.Lock()
	for _, n := range names {
		s.seen[n] = true
	}
	s.mu.Unlock()
	return nil
}

func (s *DirSource) NextFrame(ctx context.Context) (image.Image, error) {
	names, err := s.list()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	var next string
	for _, n := range names {
		if !s.seen[n] {
			next = n
			s.seen[n] = true
			break
		}
	}
	s.mu.Unlock()
	if next == "" {
		return nil, ErrNoFrame
	}
	return readImage(filepath.Join(s.dir, next))
}

func (s *DirSource) Close() error { return nil }

func (s *DirSource) list() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("could not list frame directory %s: %w", s.dir, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !isImageFile(e.Name()) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// CommandSource captures a frame per call by running an external camera
// command such as "libcamera-still -o {output} --timeout 1". The literal
// {output} is replaced with the path the command must write.
type CommandSource struct {
	name   string
	args   []string
	outDir string
}

const outputPlaceholder = "{output}"

func NewCommandSource(commandLine, outDir string) (*CommandSource, error) {
	fields := strings.Fields(commandLine)
	if len(fields) == 0 {
		return nil, fmt.Errorf("empty capture command")
	}
	if !strings.Contains(commandLine, outputPlaceholder) {
		return nil, fmt.Errorf("capture command must contain %s", outputPlaceholder)
	}
	return &CommandSource{name: fields[0], args: fields[1:], outDir: filepath.Clean(outDir)}, nil
}

func (s *CommandSource) Open(ctx context.Context) error {
	if _, err := exec.LookPath(s.name); err != nil {
		return fmt.Errorf("capture command %s: %w", s.name, err)
	}
	return os.MkdirAll(s.outDir, 0o755)
}

func (s *CommandSource) NextFrame(ctx context.Context) (image.Image, error) {
	out := filepath.Join(s.outDir, fmt.Sprintf("frame_%d.jpg", time.Now().UnixNano()))
	args := make([]string, len(s.args))
	for i, a := range s.args {
		args[i] = strings.ReplaceAll(a, outputPlaceholder, out)
	}

	cmd := exec.CommandContext(ctx, s.name, args...)
	if output, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("failed to run camera command '%s': %w, output: %s", s.name, err, string(output))
	}
	defer func() {
		if err := os.Remove(out); err != nil {
			log.Debug().Err(err).Str("file", out).Msg("camera: could not remove captured frame")
		}
	}()
	return readImage(out)
}

func (s *CommandSource) Close() error { return nil }

func readImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: could not open %s: %w", ErrBadFrame, path, err)
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%w: could not decode %s: %w", ErrBadFrame, path, err)
	}
	return img, nil
}

func isImageFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".png", ".jpg", ".jpeg":
		return true
	}
	return false
}
