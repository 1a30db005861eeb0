package upload

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const minimalPDF = "%PDF-1.4\n1 0 obj\n<< /Type /Catalog >>\nendobj\ntrailer\n<< /Root 1 0 R >>\n%%EOF\n"

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestValidate_DeclaredTextPlain(t *testing.T) {
	// The file is never read when the declared type is wrong.
	_, err := Validate(filepath.Join(t.TempDir(), "missing.pdf"), "text/plain")

	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
	if ve.Reason != invalidTypeMessage {
		t.Errorf("reason = %q", ve.Reason)
	}
}

func TestValidate_WrongExtension(t *testing.T) {
	path := writeFile(t, t.TempDir(), "notes.txt", "hello")
	if _, err := Validate(path, ""); !IsValidation(err) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
}

func TestValidate_ContentNotPDF(t *testing.T) {
	path := writeFile(t, t.TempDir(), "fake.pdf", "just some text pretending")
	if _, err := Validate(path, PDFMimeType); !IsValidation(err) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
}

func TestValidate_Empty(t *testing.T) {
	path := writeFile(t, t.TempDir(), "empty.pdf", "")
	_, err := Validate(path, "")
	if !IsValidation(err) || !strings.Contains(err.Error(), "empty") {
		t.Fatalf("err = %v, want empty ValidationError", err)
	}
}

func TestValidate_Missing(t *testing.T) {
	_, err := Validate(filepath.Join(t.TempDir(), "gone.pdf"), "")
	if !IsValidation(err) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
}

func TestValidate_TooLarge(t *testing.T) {
	path := filepath.Join(t.TempDir(), "big.pdf")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	f.WriteString("%PDF-1.4\n")
	if err := f.Truncate(MaxSize + 1); err != nil {
		t.Fatal(err)
	}
	f.Close()

	_, err = Validate(path, "")
	if !IsValidation(err) || !strings.Contains(err.Error(), "limit") {
		t.Fatalf("err = %v, want size ValidationError", err)
	}
}

func TestValidate_AcceptsPDF(t *testing.T) {
	path := writeFile(t, t.TempDir(), "Report.PDF", minimalPDF)

	doc, err := Validate(path, "application/pdf; charset=binary")
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if doc.Name != "Report.PDF" {
		t.Errorf("name = %q", doc.Name)
	}
	if doc.MimeType != PDFMimeType {
		t.Errorf("mime = %q, want %q", doc.MimeType, PDFMimeType)
	}
	if doc.Size != int64(len(minimalPDF)) {
		t.Errorf("size = %d, want %d", doc.Size, len(minimalPDF))
	}
}

func TestCountPages_Garbage(t *testing.T) {
	if _, err := CountPages(strings.NewReader("not a pdf")); err == nil {
		t.Fatal("expected error for non-PDF input")
	}
}
