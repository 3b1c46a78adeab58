// Package attach turns files passed as answer context into plain text.
package attach

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"

	"github.com/kalambet/sunday/internal/mail"
)

// MaxBytes caps the extracted text of a single file.
const MaxBytes = 64 << 10

// ErrBinary is returned for files that are neither PDF, HTML nor UTF-8 text.
var ErrBinary = errors.New("file is not text")

// ExtractText reads the file at path and returns its text, truncated to
// MaxBytes on a rune boundary.
func ExtractText(path string) (string, error) {
	var (
		text string
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		text, err = extractPDF(path)
	case ".html", ".htm":
		var b []byte
		if b, err = os.ReadFile(path); err == nil {
			text = mail.HTMLToText(string(b))
		}
	default:
		text, err = extractPlain(path)
	}
	if err != nil {
		return "", err
	}
	return truncate(strings.TrimSpace(text), MaxBytes), nil
}

func extractPDF(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening pdf %s: %w", path, err)
	}
	defer f.Close()

	plain, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("reading pdf text: %w", err)
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, io.LimitReader(plain, MaxBytes+utf8.UTFMax)); err != nil {
		return "", fmt.Errorf("reading pdf text: %w", err)
	}
	return buf.String(), nil
}

func extractPlain(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	b, err := io.ReadAll(io.LimitReader(f, MaxBytes+utf8.UTFMax))
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", path, err)
	}
	if bytes.IndexByte(b, 0) >= 0 || !utf8.Valid(trimPartialRune(b)) {
		return "", fmt.Errorf("%s: %w", path, ErrBinary)
	}
	return string(b), nil
}

// trimPartialRune drops an incomplete rune left at the end by LimitReader.
func trimPartialRune(b []byte) []byte {
	for i := 0; i < utf8.UTFMax && len(b) > 0; i++ {
		if utf8.Valid(b) {
			return b
		}
		b = b[:len(b)-1]
	}
	return b
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	s = s[:limit]
	for len(s) > 0 && !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}
