package upload

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode"
)

const (
	maxNameRunes = 128
	fallbackName = "document.pdf"
)

// SanitizeName reduces a client-supplied filename to a safe base name:
// no directories, no control characters, spaces folded to underscores and
// only letters, digits, '-', '_' and '.' kept.
func SanitizeName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))

	var b strings.Builder
	for _, r := range name {
		if unicode.IsControl(r) {
			continue
		}
		switch {
		case isAllowedNameRune(r):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune('_')
		}
	}

	cleaned := strings.TrimLeft(strings.Trim(b.String(), "_"), ".")
	runes := []rune(cleaned)
	if len(runes) > maxNameRunes {
		ext := filepath.Ext(cleaned)
		keep := maxNameRunes - len([]rune(ext))
		cleaned = string(runes[:keep]) + ext
	}
	if cleaned == "" {
		return fallbackName
	}
	return cleaned
}

func isAllowedNameRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsDigit(r) {
		return true
	}
	switch r {
	case '-', '_', '.':
		return true
	default:
		return false
	}
}

// Save copies at most MaxSize bytes from r into dir under the sanitized
// name and returns the written path. An existing file is replaced.
func Save(dir, name string, r io.Reader) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create upload dir: %w", err)
	}

	dest := filepath.Join(dir, SanitizeName(name))
	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, io.LimitReader(r, MaxSize+1))
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", fmt.Errorf("write upload: %w", err)
	}
	if n > MaxSize {
		return "", &ValidationError{Name: name, Reason: fmt.Sprintf("File %q exceeds the upload limit.", name)}
	}

	if err := os.Rename(tmp.Name(), dest); err != nil {
		return "", fmt.Errorf("store upload: %w", err)
	}
	return dest, nil
}
