package clip

import (
	"encoding/base32"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var encoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// NewID returns an opaque, lexicographically-sortable clip id: a
// nanosecond timestamp prefix (zero-padded hex, so string order matches
// time order) followed by a short random suffix for uniqueness within
// the same nanosecond and across devices.
func NewID(now time.Time) string {
	ns := now.UTC().UnixNano()
	suffix := uuid.New()
	return fmt.Sprintf("%016x%s", ns, encoding.EncodeToString(suffix[:5]))
}
