package storage

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hitoshi/biblioteca/internal/model"
)

var (
	pngData  = append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0}, 32)...)
	jpegData = append([]byte{0xFF, 0xD8, 0xFF, 0xE0}, bytes.Repeat([]byte{0}, 32)...)
	gifData  = append([]byte("GIF89a"), bytes.Repeat([]byte{0}, 32)...)
	webpData = append([]byte("RIFF\x00\x00\x00\x00WEBPVP8 "), bytes.Repeat([]byte{0}, 32)...)
)

func newTestStore(t *testing.T) *LocalFileStore {
	t.Helper()
	s, err := NewLocalFileStore(t.TempDir(), 1024, 64)
	if err != nil {
		t.Fatalf("NewLocalFileStore: %v", err)
	}
	return s
}

func TestNewLocalFileStore_CreatesDirectories(t *testing.T) {
	s := newTestStore(t)

	for _, dir := range []string{"libros", "perfiles"} {
		info, err := os.Stat(filepath.Join(s.Root(), dir))
		if err != nil {
			t.Fatalf("expected %s to exist: %v", dir, err)
		}
		if !info.IsDir() {
			t.Errorf("%s is not a directory", dir)
		}
	}
}

func TestSave_AcceptedFormats(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		data    []byte
		wantExt string
	}{
		{"png", "portada.png", pngData, ".png"},
		{"jpg", "portada.JPG", jpegData, ".jpg"},
		{"jpeg", "portada.jpeg", jpegData, ".jpg"},
		{"gif", "portada.gif", gifData, ".gif"},
		{"webp", "portada.webp", webpData, ".webp"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStore(t)

			ref, err := s.Save(context.Background(), KindCover, tt.file, bytes.NewReader(tt.data))
			if err != nil {
				t.Fatalf("Save returned error: %v", err)
			}
			if !strings.HasPrefix(ref, "/uploads/libros/") {
				t.Errorf("ref = %q, want /uploads/libros/ prefix", ref)
			}
			if !strings.HasSuffix(ref, tt.wantExt) {
				t.Errorf("ref = %q, want suffix %q", ref, tt.wantExt)
			}

			stored, err := os.ReadFile(filepath.Join(s.Root(), "libros", filepath.Base(ref)))
			if err != nil {
				t.Fatalf("stored file not found: %v", err)
			}
			if !bytes.Equal(stored, tt.data) {
				t.Error("stored content differs from upload")
			}
		})
	}
}

func TestSave_ProfileGoesToPerfiles(t *testing.T) {
	s := newTestStore(t)

	ref, err := s.Save(context.Background(), KindProfile, "yo.png", bytes.NewReader(pngData))
	if err != nil {
		t.Fatalf("Save returned error: %v", err)
	}
	if !strings.HasPrefix(ref, "/uploads/perfiles/") {
		t.Errorf("ref = %q, want /uploads/perfiles/ prefix", ref)
	}
}

func TestSave_Rejected(t *testing.T) {
	tests := []struct {
		name string
		kind Kind
		file string
		data []byte
	}{
		{"拡張子が画像でない", KindCover, "script.sh", pngData},
		{"拡張子なし", KindCover, "portada", pngData},
		{"内容が画像でない", KindCover, "portada.png", []byte("<html>not an image</html>")},
		{"拡張子と内容が不一致", KindCover, "portada.gif", pngData},
		{"空ファイル", KindCover, "portada.png", nil},
		{"プロフィール画像のサイズ超過", KindProfile, "yo.png", append(pngData, bytes.Repeat([]byte{0}, 64)...)},
		{"表紙画像のサイズ超過", KindCover, "portada.png", append(pngData, bytes.Repeat([]byte{0}, 1024)...)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStore(t)

			_, err := s.Save(context.Background(), tt.kind, tt.file, bytes.NewReader(tt.data))
			if !model.IsKind(err, model.KindValidation) {
				t.Fatalf("err = %v, want validation error", err)
			}

			entries, _ := os.ReadDir(filepath.Join(s.Root(), tt.kind.subdir()))
			if len(entries) != 0 {
				t.Errorf("expected no files written, got %d", len(entries))
			}
		})
	}
}

func TestSave_UniqueNames(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a, err := s.Save(ctx, KindCover, "a.png", bytes.NewReader(pngData))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	b, err := s.Save(ctx, KindCover, "a.png", bytes.NewReader(pngData))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if a == b {
		t.Errorf("expected distinct refs, both %q", a)
	}
}

func TestDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ref, err := s.Save(ctx, KindCover, "portada.png", bytes.NewReader(pngData))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}

	if err := s.Delete(ctx, ref); err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(s.Root(), "libros", filepath.Base(ref))); !os.IsNotExist(err) {
		t.Errorf("expected file to be removed, stat err = %v", err)
	}

	// 既に存在しないファイルの削除はエラーにしない
	if err := s.Delete(ctx, ref); err != nil {
		t.Errorf("second Delete returned error: %v", err)
	}
	if err := s.Delete(ctx, ""); err != nil {
		t.Errorf("Delete(\"\") returned error: %v", err)
	}
}

func TestDelete_RejectsOutsideRoot(t *testing.T) {
	s := newTestStore(t)

	refs := []string{
		"/etc/passwd",
		"/uploads/../config.yaml",
		"/uploads/libros/../../secret",
		"https://example.com/cover.png",
	}
	for _, ref := range refs {
		t.Run(ref, func(t *testing.T) {
			if err := s.Delete(context.Background(), ref); err == nil {
				t.Errorf("Delete(%q) should have returned error", ref)
			}
		})
	}
}
