package migrate

import (
	"io"
	"os"

	"github.com/0xfell/ditox/internal/ditoxerr"
)

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return ditoxerr.Wrap(ditoxerr.Fatal, "open db for backup", err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		return ditoxerr.Wrap(ditoxerr.Fatal, "create backup file", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return ditoxerr.Wrap(ditoxerr.Fatal, "write backup file", err)
	}
	return out.Sync()
}
