// Package nativeboard implements clipboarddriver.Driver on top of
// golang.design/x/clipboard, giving both text and image (RGBA PNG) access
// without shelling out. Grounded on yiblet-rem/internal/tui/app.go's use
// of the same library for copy/paste.
package nativeboard

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"sync"

	"golang.design/x/clipboard"

	"github.com/0xfell/ditox/internal/clipboarddriver"
)

// NativeClipboard drives the OS clipboard via golang.design/x/clipboard.
// Init must succeed once per process before use; New performs that.
type NativeClipboard struct {
	mu sync.Mutex
}

// New initializes the underlying native clipboard backend. Returns a
// Driver error with Kind Unavailable if the platform backend (e.g. no X11
// display) could not be initialized.
func New() (*NativeClipboard, error) {
	if err := clipboard.Init(); err != nil {
		return nil, &clipboarddriver.Error{Kind: clipboarddriver.Unavailable, Op: "init", Cause: err}
	}
	return &NativeClipboard{}, nil
}

func (n *NativeClipboard) GetText() (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	data := clipboard.Read(clipboard.FmtText)
	if len(data) == 0 {
		return "", &clipboarddriver.Error{Kind: clipboarddriver.Empty, Op: "get_text"}
	}
	return string(data), nil
}

func (n *NativeClipboard) SetText(s string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	clipboard.Write(clipboard.FmtText, []byte(s))
	return nil
}

func (n *NativeClipboard) GetImage() (clipboarddriver.Image, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	data := clipboard.Read(clipboard.FmtImage)
	if len(data) == 0 {
		return clipboarddriver.Image{}, &clipboarddriver.Error{Kind: clipboarddriver.Empty, Op: "get_image"}
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return clipboarddriver.Image{}, &clipboarddriver.Error{Kind: clipboarddriver.Transient, Op: "get_image", Cause: err}
	}
	rgba := toRGBA(img)
	bounds := rgba.Bounds()
	return clipboarddriver.Image{
		RGBA:   rgba.Pix,
		Width:  bounds.Dx(),
		Height: bounds.Dy(),
	}, nil
}

func (n *NativeClipboard) SetImage(img clipboarddriver.Image) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	rgba := &image.RGBA{
		Pix:    img.RGBA,
		Stride: img.Width * 4,
		Rect:   image.Rect(0, 0, img.Width, img.Height),
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, rgba); err != nil {
		return &clipboarddriver.Error{Kind: clipboarddriver.Fatal, Op: "set_image", Cause: err}
	}
	clipboard.Write(clipboard.FmtImage, buf.Bytes())
	return nil
}

// Watch subscribes to native clipboard-change notifications where the
// platform backend supports them, cancelled via ctx. Not used by the
// polling-based capture watcher directly, but exposed for callers that
// want push-based updates instead of sampling.
func (n *NativeClipboard) Watch(ctx context.Context) <-chan []byte {
	return clipboard.Watch(ctx, clipboard.FmtText)
}

func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba
	}
	bounds := img.Bounds()
	rgba := image.NewRGBA(bounds)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			rgba.Set(x, y, img.At(x, y))
		}
	}
	return rgba
}
