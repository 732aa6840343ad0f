// Package mockboard is a hand-rolled fake Driver for tests, grounded on
// yiblet-rem/internal/clipboard/mockboard's in-memory clipboard fake.
package mockboard

import (
	"sync"

	"github.com/0xfell/ditox/internal/clipboarddriver"
)

// MockClipboard is an in-memory clipboarddriver.Driver. Scripted errors can
// be queued with FailNextGetText for testing the watcher's backoff path.
type MockClipboard struct {
	mu sync.Mutex

	text  string
	image clipboarddriver.Image

	failNextGetText error
}

func New() *MockClipboard {
	return &MockClipboard{}
}

func (m *MockClipboard) GetText() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failNextGetText != nil {
		err := m.failNextGetText
		m.failNextGetText = nil
		return "", err
	}
	if m.text == "" {
		return "", &clipboarddriver.Error{Kind: clipboarddriver.Empty, Op: "get_text"}
	}
	return m.text, nil
}

func (m *MockClipboard) SetText(s string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.text = s
	return nil
}

func (m *MockClipboard) GetImage() (clipboarddriver.Image, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.image.RGBA) == 0 {
		return clipboarddriver.Image{}, &clipboarddriver.Error{Kind: clipboarddriver.Empty, Op: "get_image"}
	}
	return m.image, nil
}

func (m *MockClipboard) SetImage(img clipboarddriver.Image) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.image = img
	return nil
}

// SetTextDirect sets the clipboard's text content, simulating an external
// copy (bypassing SetText so the watcher observes it as a new value).
func (m *MockClipboard) SetTextDirect(s string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.text = s
}

// SetImageDirect simulates an external image copy.
func (m *MockClipboard) SetImageDirect(img clipboarddriver.Image) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.image = img
}

// FailNextGetText queues a single error to be returned by the next GetText call.
func (m *MockClipboard) FailNextGetText(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNextGetText = err
}
