// Package contextfile reads the optional file a user attaches as extra context.
package contextfile

import (
	"io"

	"github.com/pkg/errors"
	"github.com/spf13/afero"

	"github.com/prepcli/prep/models"
)

// WarnFunc receives a message when content had to be truncated.
type WarnFunc func(msg string)

type Reader struct {
	fs       afero.Fs
	maxBytes int
	warn     WarnFunc
}

// NewReader returns a reader bounded to maxBytes (models.MaxContextBytes when <= 0 or larger).
func NewReader(fs afero.Fs, maxBytes int, warn WarnFunc) *Reader {
	if maxBytes <= 0 || maxBytes > models.MaxContextBytes {
		maxBytes = models.MaxContextBytes
	}
	if warn == nil {
		warn = func(string) {}
	}
	return &Reader{fs: fs, maxBytes: maxBytes, warn: warn}
}

// Read returns the file content. Content above the ceiling is cut, not rejected.
func (r *Reader) Read(path string) (string, error) {
	f, err := r.fs.Open(path)
	if err != nil {
		return "", errors.Wrapf(err, "failed to open context file '%s'", path)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", errors.Wrapf(err, "failed to stat context file '%s'", path)
	}
	if info.IsDir() {
		return "", errors.Errorf("context path '%s' is a directory", path)
	}

	data, err := io.ReadAll(io.LimitReader(f, int64(r.maxBytes)+1))
	if err != nil {
		return "", errors.Wrapf(err, "failed to read context file '%s'", path)
	}

	content, truncated := Truncate(string(data), r.maxBytes)
	if truncated {
		r.warn("context file '" + path + "' is larger than the context limit and was truncated")
	}
	return content, nil
}

// Truncate cuts content to maxBytes on a UTF-8 boundary and reports whether it cut anything.
func Truncate(content string, maxBytes int) (string, bool) {
	if len(content) <= maxBytes {
		return content, false
	}
	cut := maxBytes
	for cut > 0 && cut < len(content) && content[cut]&0xC0 == 0x80 {
		cut--
	}
	return content[:cut], true
}
