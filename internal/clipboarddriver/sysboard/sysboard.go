// Package sysboard implements clipboarddriver.Driver for text using
// platform command-line tools: pbcopy/pbpaste on macOS, xclip or xsel on
// Linux. Grounded on yiblet-rem/internal/clipboard/sysboard. Image
// operations are Unavailable here — use nativeboard for image support.
package sysboard

import (
	"bytes"
	"os/exec"
	"runtime"
	"strings"

	"github.com/0xfell/ditox/internal/clipboarddriver"
)

// SystemClipboard drives the OS clipboard through external commands.
type SystemClipboard struct{}

func New() *SystemClipboard {
	return &SystemClipboard{}
}

// IsSupported reports whether a backing command is available on this host.
func (s *SystemClipboard) IsSupported() bool {
	switch runtime.GOOS {
	case "darwin":
		_, errCopy := exec.LookPath("pbcopy")
		_, errPaste := exec.LookPath("pbpaste")
		return errCopy == nil && errPaste == nil
	case "linux":
		if _, err := exec.LookPath("xclip"); err == nil {
			return true
		}
		_, err := exec.LookPath("xsel")
		return err == nil
	default:
		return false
	}
}

func (s *SystemClipboard) GetText() (string, error) {
	switch runtime.GOOS {
	case "darwin":
		return runRead("pbpaste")
	case "linux":
		return readLinux()
	default:
		return "", &clipboarddriver.Error{Kind: clipboarddriver.Unavailable, Op: "get_text"}
	}
}

func (s *SystemClipboard) SetText(text string) error {
	switch runtime.GOOS {
	case "darwin":
		return runWrite(text, "pbcopy")
	case "linux":
		return writeLinux(text)
	default:
		return &clipboarddriver.Error{Kind: clipboarddriver.Unavailable, Op: "set_text"}
	}
}

func (s *SystemClipboard) GetImage() (clipboarddriver.Image, error) {
	return clipboarddriver.Image{}, &clipboarddriver.Error{Kind: clipboarddriver.Unavailable, Op: "get_image"}
}

func (s *SystemClipboard) SetImage(clipboarddriver.Image) error {
	return &clipboarddriver.Error{Kind: clipboarddriver.Unavailable, Op: "set_image"}
}

func readLinux() (string, error) {
	if out, err := runRead("xclip", "-selection", "clipboard", "-o"); err == nil {
		return out, nil
	}
	out, err := runRead("xsel", "--clipboard", "--output")
	if err != nil {
		return "", &clipboarddriver.Error{Kind: clipboarddriver.Unavailable, Op: "get_text", Cause: err}
	}
	return out, nil
}

func writeLinux(text string) error {
	if err := runWrite(text, "xclip", "-selection", "clipboard"); err == nil {
		return nil
	}
	if err := runWrite(text, "xsel", "--clipboard", "--input"); err != nil {
		return &clipboarddriver.Error{Kind: clipboarddriver.Unavailable, Op: "set_text", Cause: err}
	}
	return nil
}

func runRead(name string, args ...string) (string, error) {
	cmd := exec.Command(name, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return "", classifyExecError(err)
	}
	return strings.TrimSuffix(out.String(), "\n"), nil
}

func runWrite(text string, name string, args ...string) error {
	cmd := exec.Command(name, args...)
	cmd.Stdin = strings.NewReader(text)
	if err := cmd.Run(); err != nil {
		return classifyExecError(err)
	}
	return nil
}

func classifyExecError(err error) error {
	if _, ok := err.(*exec.ExitError); ok {
		return &clipboarddriver.Error{Kind: clipboarddriver.Transient, Op: "exec", Cause: err}
	}
	return &clipboarddriver.Error{Kind: clipboarddriver.Unavailable, Op: "exec", Cause: err}
}
