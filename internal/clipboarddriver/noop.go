package clipboarddriver

// Noop is the Driver used on platforms without a backing implementation;
// every operation reports Unavailable and the watcher becomes a no-op
// (spec.md §4.1).
type Noop struct{}

func (Noop) GetText() (string, error)  { return "", newErr(Unavailable, "get_text", nil) }
func (Noop) SetText(string) error      { return newErr(Unavailable, "set_text", nil) }
func (Noop) GetImage() (Image, error)  { return Image{}, newErr(Unavailable, "get_image", nil) }
func (Noop) SetImage(Image) error      { return newErr(Unavailable, "set_image", nil) }
