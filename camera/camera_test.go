package camera

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/oned"
	"github.com/makiuchi-d/gozxing/qrcode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func qrImage(t *testing.T, payload string) image.Image {
	t.Helper()
	img, err := qrcode.NewQRCodeWriter().Encode(payload, gozxing.BarcodeFormat_QR_CODE, 256, 256, nil)
	require.NoError(t, err)
	return img
}

func code128Image(t *testing.T, payload string) image.Image {
	t.Helper()
	img, err := oned.NewCode128Writer().Encode(payload, gozxing.BarcodeFormat_CODE_128, 300, 100, nil)
	require.NoError(t, err)
	return img
}

func blankImage() image.Image {
	img := image.NewGray(image.Rect(0, 0, 64, 64))
	for x := 0; x < 64; x++ {
		for y := 0; y < 64; y++ {
			img.SetGray(x, y, color.Gray{Y: 255})
		}
	}
	return img
}

func writePNG(t *testing.T, path string, img image.Image) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

func TestDecoder_Decode(t *testing.T) {
	tests := []struct {
		name string
		img  func(t *testing.T) image.Image
		want []Code
	}{
		{name: "qr", img: func(t *testing.T) image.Image { return qrImage(t, "RACK-1") }, want: []Code{{Symbology: SymbologyQR, Payload: "RACK-1"}}},
		{name: "code128", img: func(t *testing.T) image.Image { return code128Image(t, "123456") }, want: []Code{{Symbology: SymbologyCode128, Payload: "123456"}}},
		{name: "blank", img: func(t *testing.T) image.Image { return blankImage() }, want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewDecoder().Decode(tt.img(t))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDirSource_SkipsExistingAndConsumesOnce(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "old.png"), qrImage(t, "OLD"))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o600))

	src := NewDirSource(dir)
	require.NoError(t, src.Open(context.Background()))

	_, err := src.NextFrame(context.Background())
	assert.ErrorIs(t, err, ErrNoFrame)

	writePNG(t, filepath.Join(dir, "b.png"), qrImage(t, "B"))
	writePNG(t, filepath.Join(dir, "a.png"), qrImage(t, "A"))

	dec := NewDecoder()
	for _, want := range []string{"A", "B"} {
		img, err := src.NextFrame(context.Background())
		require.NoError(t, err)
		codes, err := dec.Decode(img)
		require.NoError(t, err)
		require.Len(t, codes, 1)
		assert.Equal(t, want, codes[0].Payload)
	}
	_, err = src.NextFrame(context.Background())
	assert.ErrorIs(t, err, ErrNoFrame)
}

func TestDirSource_UnreadableFrame(t *testing.T) {
	dir := t.TempDir()
	src := NewDirSource(dir)
	require.NoError(t, src.Open(context.Background()))

	truncated := []byte("\x89PNG\r\n\x1a\n\x00\x00")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.png"), truncated, 0o600))
	writePNG(t, filepath.Join(dir, "b.png"), qrImage(t, "B"))

	_, err := src.NextFrame(context.Background())
	assert.ErrorIs(t, err, ErrBadFrame)

	img, err := src.NextFrame(context.Background())
	require.NoError(t, err, "a bad frame must not poison the source")
	assert.NotNil(t, img)
}

func TestDirSource_OpenMissingDir(t *testing.T) {
	src := NewDirSource(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, src.Open(context.Background()))
}

func TestNewCommandSource(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		wantErr bool
	}{
		{name: "valid", line: "libcamera-still -o {output} --timeout 1", wantErr: false},
		{name: "empty", line: "  ", wantErr: true},
		{name: "no placeholder", line: "imagesnap out.jpg", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCommandSource(tt.line, t.TempDir())
			if (err != nil) != tt.wantErr {
				t.Errorf("NewCommandSource() err=%#v wantErr=%#v", err, tt.wantErr)
			}
		})
	}
}

type recordedEvents struct {
	mu          sync.Mutex
	initialized int
	codes       [][]Code
	errs        []error
}

func (r *recordedEvents) Initialized() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.initialized++
}

func (r *recordedEvents) CodesScanned(codes []Code) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.codes = append(r.codes, codes)
}

func (r *recordedEvents) RuntimeError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *recordedEvents) snapshot() (int, [][]Code, []error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.initialized, append([][]Code(nil), r.codes...), append([]error(nil), r.errs...)
}

func TestFrameDevice_ScansOnlyWhileActive(t *testing.T) {
	dir := t.TempDir()
	dev := NewFrameDevice("dir", NewDirSource(dir), 100)
	ev := &recordedEvents{}
	require.NoError(t, dev.Start(ev))
	defer dev.Close()

	assert.ErrorIs(t, dev.Start(ev), ErrAlreadyStarted)
	require.Eventually(t, func() bool {
		n, _, _ := ev.snapshot()
		return n == 1
	}, time.Second, 5*time.Millisecond)

	writePNG(t, filepath.Join(dir, "frame1.png"), qrImage(t, "RACK-1"))
	time.Sleep(50 * time.Millisecond)
	_, codes, _ := ev.snapshot()
	assert.Empty(t, codes, "inactive device must not scan")

	dev.SetActive(true)
	require.Eventually(t, func() bool {
		_, codes, _ := ev.snapshot()
		return len(codes) == 1
	}, 2*time.Second, 5*time.Millisecond)
	_, codes, _ = ev.snapshot()
	assert.Equal(t, []Code{{Symbology: SymbologyQR, Payload: "RACK-1"}}, codes[0])
}

func TestFrameDevice_SkipsUnreadableFrame(t *testing.T) {
	dir := t.TempDir()
	dev := NewFrameDevice("dir", NewDirSource(dir), 100)
	ev := &recordedEvents{}
	require.NoError(t, dev.Start(ev))
	defer dev.Close()
	require.Eventually(t, func() bool {
		n, _, _ := ev.snapshot()
		return n == 1
	}, time.Second, 5*time.Millisecond)
	dev.SetActive(true)

	truncated := []byte("\x89PNG\r\n\x1a\n\x00\x00")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "frame1.png"), truncated, 0o600))
	staged := filepath.Join(t.TempDir(), "frame2.png")
	writePNG(t, staged, qrImage(t, "RACK-1"))
	require.NoError(t, os.Rename(staged, filepath.Join(dir, "frame2.png")))

	require.Eventually(t, func() bool {
		_, codes, _ := ev.snapshot()
		return len(codes) == 1
	}, 2*time.Second, 5*time.Millisecond)
	_, codes, errs := ev.snapshot()
	assert.Empty(t, errs, "a bad frame is not a runtime error")
	assert.Equal(t, []Code{{Symbology: SymbologyQR, Payload: "RACK-1"}}, codes[0])
}

func TestFrameDevice_OpenFailureIsRuntimeError(t *testing.T) {
	dev := NewFrameDevice("dir", NewDirSource(filepath.Join(t.TempDir(), "missing")), 10)
	ev := &recordedEvents{}
	require.NoError(t, dev.Start(ev))
	require.Eventually(t, func() bool {
		_, _, errs := ev.snapshot()
		return len(errs) == 1
	}, time.Second, 5*time.Millisecond)
	n, _, _ := ev.snapshot()
	assert.Equal(t, 0, n)
	assert.NoError(t, dev.Close())
}

func TestFrameDevice_Torch(t *testing.T) {
	dev := NewFrameDevice("dir", NewDirSource(t.TempDir()), 10)
	assert.Equal(t, TorchOff, dev.Torch())
	dev.SetTorch(TorchOn)
	assert.Equal(t, TorchOn, dev.Torch())
	assert.NoError(t, dev.Close())
}
