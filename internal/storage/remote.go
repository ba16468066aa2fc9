package storage

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/biblioteca/internal/model"
)

// SSRFValidator はSSRF検証のインターフェース。
type SSRFValidator interface {
	ValidateURL(rawURL string) error
	NewSafeClient(timeout time.Duration) *http.Client
}

// RemoteCoverFetcher は外部URLの画像を表紙として取り込む。
type RemoteCoverFetcher struct {
	guard   SSRFValidator
	store   FileStore
	timeout time.Duration
	maxSize int64
}

// NewRemoteCoverFetcher はRemoteCoverFetcherを生成する。
func NewRemoteCoverFetcher(guard SSRFValidator, store FileStore, timeout time.Duration, maxSize int64) *RemoteCoverFetcher {
	return &RemoteCoverFetcher{
		guard:   guard,
		store:   store,
		timeout: timeout,
		maxSize: maxSize,
	}
}

// Fetch はURLを検証して画像をダウンロードし、表紙として保存した参照を返す。
func (f *RemoteCoverFetcher) Fetch(ctx context.Context, rawURL string) (string, error) {
	if err := f.guard.ValidateURL(rawURL); err != nil {
		slog.Warn("cover fetch blocked", slog.String("url", rawURL), slog.String("error", err.Error()))
		return "", model.NewRemoteFetchBlockedError("許可されていないURLです")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", model.NewRemoteFetchBlockedError("URLを解釈できません")
	}
	req.Header.Set("User-Agent", "Biblioteca/1.0 cover importer")
	req.Header.Set("Accept", "image/*")

	resp, err := f.guard.NewSafeClient(f.timeout).Do(req)
	if err != nil {
		slog.Warn("cover fetch failed", slog.String("url", rawURL), slog.String("error", err.Error()))
		return "", model.NewRemoteFetchBlockedError("画像を取得できませんでした")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		slog.Warn("cover fetch: unexpected status", slog.String("url", rawURL), slog.Int("status", resp.StatusCode))
		return "", model.NewRemoteFetchBlockedError("画像を取得できませんでした")
	}
	if resp.ContentLength > f.maxSize {
		return "", model.NewInvalidUploadError("画像がサイズ上限を超えています")
	}

	contentType, body, err := sniff(resp.Body)
	if err != nil {
		return "", model.NewRemoteFetchBlockedError("画像を読み込めませんでした")
	}
	ext := extensionFor(contentType)
	if ext == "" {
		return "", model.NewInvalidUploadError("画像ではありません")
	}

	return f.store.Save(ctx, KindCover, "remote"+ext, body)
}
