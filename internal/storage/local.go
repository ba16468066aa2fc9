// Package storage はアップロード画像の保存・削除と外部URLからの表紙画像取得を提供する。
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/biblioteca/internal/model"
)

// PublicPrefix はアップロード画像を公開するURLパスの接頭辞。
const PublicPrefix = "/uploads/"

// Kind は保存する画像の種類。
type Kind string

const (
	// KindCover は書籍の表紙画像。
	KindCover Kind = "covers"
	// KindProfile は利用者のプロフィール画像。
	KindProfile Kind = "profiles"
)

// subdir は画像の種類ごとの保存先ディレクトリ名。
func (k Kind) subdir() string {
	switch k {
	case KindCover:
		return "libros"
	case KindProfile:
		return "perfiles"
	default:
		return ""
	}
}

// allowedTypes は拡張子ごとに許可するContent-Type。
var allowedTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
}

// FileStore は画像ファイルの保存と削除のインターフェース。
type FileStore interface {
	// Save は画像を保存し、公開用の参照（/uploads/...）を返す。
	Save(ctx context.Context, kind Kind, originalName string, r io.Reader) (string, error)
	// Delete は参照が指すファイルを削除する。存在しない場合は何もしない。
	Delete(ctx context.Context, ref string) error
}

// LocalFileStore はローカルディレクトリに画像を保存するFileStoreの実装。
type LocalFileStore struct {
	root     string
	maxSizes map[Kind]int64
	now      func() time.Time
}

// NewLocalFileStore はLocalFileStoreを生成する。
// 種類ごとの保存先ディレクトリは存在しない場合に作成する。
func NewLocalFileStore(root string, coverMaxSize, photoMaxSize int64) (*LocalFileStore, error) {
	s := &LocalFileStore{
		root: root,
		maxSizes: map[Kind]int64{
			KindCover:   coverMaxSize,
			KindProfile: photoMaxSize,
		},
		now: time.Now,
	}
	for kind := range s.maxSizes {
		if err := os.MkdirAll(filepath.Join(root, kind.subdir()), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create upload directory: %w", err)
		}
	}
	return s, nil
}

// Root はアップロードディレクトリのパスを返す。
func (s *LocalFileStore) Root() string {
	return s.root
}

// MaxSize は種類ごとのサイズ上限を返す。
func (s *LocalFileStore) MaxSize(kind Kind) int64 {
	return s.maxSizes[kind]
}

// Save は拡張子と内容の両方で画像形式を確認してから保存する。
// ファイル名は <unixミリ秒>-<uuid><拡張子> とする。
func (s *LocalFileStore) Save(ctx context.Context, kind Kind, originalName string, r io.Reader) (string, error) {
	maxSize, ok := s.maxSizes[kind]
	if !ok {
		return "", fmt.Errorf("unknown upload kind: %s", kind)
	}

	ext := strings.ToLower(filepath.Ext(originalName))
	if ext == ".jpeg" {
		ext = ".jpg"
	}
	wantType, ok := allowedTypes[ext]
	if !ok {
		return "", model.NewInvalidUploadError("対応していない拡張子です")
	}

	data, err := io.ReadAll(io.LimitReader(r, maxSize+1))
	if err != nil {
		return "", model.NewInvalidUploadError("ファイルを読み込めません")
	}
	if len(data) == 0 {
		return "", model.NewInvalidUploadError("ファイルが空です")
	}
	if int64(len(data)) > maxSize {
		return "", model.NewInvalidUploadError(fmt.Sprintf("サイズ上限（%dバイト）を超えています", maxSize))
	}
	if got := http.DetectContentType(data); got != wantType {
		return "", model.NewInvalidUploadError("ファイルの内容が画像形式と一致しません")
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}

	name := fmt.Sprintf("%d-%s%s", s.now().UnixMilli(), uuid.NewString(), ext)
	dst := filepath.Join(s.root, kind.subdir(), name)
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return "", model.NewStorageUnavailableError("write upload", err)
	}

	ref := path.Join(PublicPrefix, kind.subdir(), name)
	slog.Info("upload saved",
		slog.String("kind", string(kind)),
		slog.String("ref", ref),
		slog.Int("size", len(data)),
	)
	return ref, nil
}

// Delete は参照が指すファイルを削除する。
// アップロードディレクトリ外を指す参照はエラーとする。
func (s *LocalFileStore) Delete(_ context.Context, ref string) error {
	if ref == "" {
		return nil
	}
	p, err := s.resolve(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete upload: %w", err)
	}
	return nil
}

// resolve は公開参照をファイルパスへ変換する。
func (s *LocalFileStore) resolve(ref string) (string, error) {
	if !strings.HasPrefix(ref, PublicPrefix) {
		return "", fmt.Errorf("reference outside upload root: %s", ref)
	}
	rel := path.Clean(strings.TrimPrefix(ref, PublicPrefix))
	if rel == "." || rel == ".." || strings.HasPrefix(rel, "../") || strings.Contains(rel, "\\") {
		return "", fmt.Errorf("reference outside upload root: %s", ref)
	}
	return filepath.Join(s.root, filepath.FromSlash(rel)), nil
}

// extensionFor はContent-Typeに対応する拡張子を返す。
func extensionFor(contentType string) string {
	switch contentType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	default:
		return ""
	}
}

// sniff はリーダーの先頭を読み取り、判定したContent-Typeと全体を読み直せるリーダーを返す。
func sniff(r io.Reader) (string, io.Reader, error) {
	head := make([]byte, 512)
	n, err := io.ReadFull(r, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", nil, err
	}
	head = head[:n]
	return http.DetectContentType(head), io.MultiReader(bytes.NewReader(head), r), nil
}

var _ FileStore = (*LocalFileStore)(nil)
