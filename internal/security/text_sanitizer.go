// Package security は入力値の無害化と外部URLアクセスの保護を提供する。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer は利用者が入力したプレーンテキストからマークアップを除去する。
// 書籍のタイトル・著者・ジャンルやユーザー名の保存前に使用する。
type TextSanitizer interface {
	// Clean はすべてのHTMLタグを除去し、前後の空白を取り除いた文字列を返す。
	Clean(raw string) string
}

// textSanitizer はbluemondayのStrictPolicyによるTextSanitizerの実装。
type textSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerの新しいインスタンスを生成する。
func NewTextSanitizer() *textSanitizer {
	return &textSanitizer{policy: bluemonday.StrictPolicy()}
}

// Clean はタグを除去する。StrictPolicyは&などをエスケープするため、保存用に元の文字へ戻す。
func (s *textSanitizer) Clean(raw string) string {
	return strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(raw)))
}
