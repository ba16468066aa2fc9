package handler

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"net/http"

	"github.com/hitoshi/biblioteca/internal/model"
	"github.com/hitoshi/biblioteca/internal/storage"
)

// multipartOverhead はファイル以外のフォーム項目とヘッダー分の余裕。
const multipartOverhead = 1 << 20

// ImageStore はアップロード画像の保存先インターフェース。
type ImageStore interface {
	Save(ctx context.Context, kind storage.Kind, originalName string, r io.Reader) (string, error)
	Delete(ctx context.Context, ref string) error
	MaxSize(kind storage.Kind) int64
}

// parseMultipart はサイズ上限付きでmultipartフォームを解析する。
func parseMultipart(w http.ResponseWriter, r *http.Request, maxFile int64) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxFile+multipartOverhead)
	if err := r.ParseMultipartForm(maxFile + multipartOverhead); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return model.NewInvalidUploadError("ファイルサイズが上限を超えています")
		}
		return model.NewValidationError("form", "multipart/form-dataとして解析できません")
	}
	return nil
}

// saveUpload はフォームのファイル項目を保存し、参照を返す。
// ファイルが添付されていない場合はnilを返す。
func saveUpload(r *http.Request, store ImageStore, kind storage.Kind, field string) (*string, error) {
	file, header, err := r.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, model.NewInvalidUploadError("ファイルを読み取れません")
	}
	defer file.Close()

	ref, err := store.Save(r.Context(), kind, header.Filename, file)
	if err != nil {
		return nil, err
	}
	return &ref, nil
}

// uploadFS はアップロードディレクトリの一覧表示を無効にしたファイルシステム。
type uploadFS struct {
	fs http.FileSystem
}

// Open はディレクトリの場合に404となるよう os.ErrNotExist を返す。
func (u uploadFS) Open(name string) (http.File, error) {
	f, err := u.fs.Open(name)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if info.IsDir() {
		f.Close()
		return nil, fs.ErrNotExist
	}
	return f, nil
}
