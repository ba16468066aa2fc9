// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// ErrorKind はエラーの種別を表す。
// プレゼンテーション層はKindからHTTPステータスを決定する。
type ErrorKind string

// 定義済みエラー種別
const (
	KindNotFound               ErrorKind = "not_found"
	KindCapacityExceeded       ErrorKind = "capacity_exceeded"
	KindActiveLoansExist       ErrorKind = "active_loans_exist"
	KindLoanHistoryExists      ErrorKind = "loan_history_exists"
	KindSelfModificationDenied ErrorKind = "self_modification_denied"
	KindValidation             ErrorKind = "validation"
	KindDuplicateUsername      ErrorKind = "duplicate_username"
	KindStorageUnavailable     ErrorKind = "storage_unavailable"
	KindUnauthorized           ErrorKind = "unauthorized"
	KindForbidden              ErrorKind = "forbidden"
	KindInvalidCredentials     ErrorKind = "invalid_credentials"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string    // エラーコード
	Message  string    // エラーメッセージ
	Category string    // カテゴリ: auth, validation, catalog, loan, system
	Action   string    // ユーザー向け対処方法
	Kind     ErrorKind // エラー種別

	cause error
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap は原因となったエラーを返す。
func (e *APIError) Unwrap() error {
	return e.cause
}

// KindOf はエラーチェーンからAPIErrorの種別を取り出す。
// APIErrorを含まない場合は空文字列を返す。
func KindOf(err error) ErrorKind {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return ""
}

// IsKind はエラーが指定種別のAPIErrorかどうかを判定する。
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}

// 定義済みエラーコード
const (
	ErrCodeBookNotFound           = "BOOK_NOT_FOUND"
	ErrCodeLoanNotFound           = "LOAN_NOT_FOUND"
	ErrCodeUserNotFound           = "USER_NOT_FOUND"
	ErrCodeCapacityExceeded       = "CAPACITY_EXCEEDED"
	ErrCodeActiveLoansExist       = "ACTIVE_LOANS_EXIST"
	ErrCodeLoanHistoryExists      = "LOAN_HISTORY_EXISTS"
	ErrCodeSelfModificationDenied = "SELF_MODIFICATION_DENIED"
	ErrCodeValidation             = "VALIDATION_ERROR"
	ErrCodeDuplicateUsername      = "DUPLICATE_USERNAME"
	ErrCodeStorageUnavailable     = "STORAGE_UNAVAILABLE"
	ErrCodeUnauthorized           = "UNAUTHORIZED"
	ErrCodeForbidden              = "FORBIDDEN"
	ErrCodeInvalidCredentials     = "INVALID_CREDENTIALS"
	ErrCodeAccountInactive        = "ACCOUNT_INACTIVE"
	ErrCodeInvalidUpload          = "INVALID_UPLOAD"
	ErrCodeRemoteFetchBlocked     = "REMOTE_FETCH_BLOCKED"
)

// NewBookNotFoundError は書籍未検出エラーを生成する。
func NewBookNotFoundError(bookID string) *APIError {
	return &APIError{
		Code:     ErrCodeBookNotFound,
		Message:  fmt.Sprintf("指定された書籍が見つかりません: %s", bookID),
		Category: "catalog",
		Action:   "書籍IDを確認してください。",
		Kind:     KindNotFound,
	}
}

// NewLoanNotFoundError は貸出未検出エラーを生成する。
func NewLoanNotFoundError(loanID string) *APIError {
	return &APIError{
		Code:     ErrCodeLoanNotFound,
		Message:  fmt.Sprintf("指定された貸出が見つかりません: %s", loanID),
		Category: "loan",
		Action:   "貸出IDを確認してください。",
		Kind:     KindNotFound,
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ユーザーIDを確認してください。",
		Kind:     KindNotFound,
	}
}

// NewCapacityExceededError は貸出可能な在庫がない場合のエラーを生成する。
func NewCapacityExceededError(bookID string) *APIError {
	return &APIError{
		Code:     ErrCodeCapacityExceeded,
		Message:  fmt.Sprintf("この書籍は現在貸出できる在庫がありません: %s", bookID),
		Category: "loan",
		Action:   "返却を待つか、別の書籍を選択してください。",
		Kind:     KindCapacityExceeded,
	}
}

// NewActiveLoansExistError は未返却の貸出が残っている場合のエラーを生成する。
func NewActiveLoansExistError(bookID string) *APIError {
	return &APIError{
		Code:     ErrCodeActiveLoansExist,
		Message:  fmt.Sprintf("未返却の貸出がある書籍は操作できません: %s", bookID),
		Category: "catalog",
		Action:   "すべての貸出が返却されてから再度お試しください。",
		Kind:     KindActiveLoansExist,
	}
}

// NewLoanHistoryExistsError は貸出履歴がある書籍を削除しようとした場合のエラーを生成する。
func NewLoanHistoryExistsError(bookID string) *APIError {
	return &APIError{
		Code:     ErrCodeLoanHistoryExists,
		Message:  fmt.Sprintf("貸出履歴のある書籍は削除できません: %s", bookID),
		Category: "catalog",
		Action:   "削除の代わりに書籍を除籍してください。",
		Kind:     KindLoanHistoryExists,
	}
}

// NewSelfModificationDeniedError は管理者が自分自身の権限や状態を変更しようとした場合のエラーを生成する。
func NewSelfModificationDeniedError() *APIError {
	return &APIError{
		Code:     ErrCodeSelfModificationDenied,
		Message:  "自分自身の権限の変更や無効化はできません。",
		Category: "auth",
		Action:   "別の管理者に操作を依頼してください。",
		Kind:     KindSelfModificationDenied,
	}
}

// NewValidationError は入力値検証エラーを生成する。
func NewValidationError(field, reason string) *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  fmt.Sprintf("入力値が不正です（%s）: %s", field, reason),
		Category: "validation",
		Action:   "入力内容を確認してください。",
		Kind:     KindValidation,
	}
}

// NewDuplicateUsernameError はユーザー名重複エラーを生成する。
func NewDuplicateUsernameError(username string) *APIError {
	return &APIError{
		Code:     ErrCodeDuplicateUsername,
		Message:  fmt.Sprintf("このユーザー名は既に使用されています: %s", username),
		Category: "validation",
		Action:   "別のユーザー名を指定してください。",
		Kind:     KindDuplicateUsername,
	}
}

// NewStorageUnavailableError は永続化層の想定外エラーをラップする。
func NewStorageUnavailableError(op string, err error) *APIError {
	return &APIError{
		Code:     ErrCodeStorageUnavailable,
		Message:  fmt.Sprintf("データストアの処理に失敗しました（%s）", op),
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
		Kind:     KindStorageUnavailable,
		cause:    err,
	}
}

// NewUnauthorizedError は未認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
		Kind:     KindUnauthorized,
	}
}

// NewForbiddenError は権限不足エラーを生成する。
func NewForbiddenError() *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  "この操作を行う権限がありません。",
		Category: "auth",
		Action:   "管理者に問い合わせてください。",
		Kind:     KindForbidden,
	}
}

// NewInvalidCredentialsError はログイン失敗エラーを生成する。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "ユーザー名またはパスワードが正しくありません。",
		Category: "auth",
		Action:   "入力内容を確認して再度ログインしてください。",
		Kind:     KindInvalidCredentials,
	}
}

// NewAccountInactiveError は無効化されたアカウントでのログインエラーを生成する。
func NewAccountInactiveError() *APIError {
	return &APIError{
		Code:     ErrCodeAccountInactive,
		Message:  "このアカウントは無効化されています。",
		Category: "auth",
		Action:   "管理者に問い合わせてください。",
		Kind:     KindInvalidCredentials,
	}
}

// NewInvalidUploadError はアップロードファイルが不正な場合のエラーを生成する。
func NewInvalidUploadError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidUpload,
		Message:  fmt.Sprintf("アップロードされたファイルを受け付けられません: %s", reason),
		Category: "validation",
		Action:   "jpeg、png、gif、webp形式の画像をサイズ上限内で指定してください。",
		Kind:     KindValidation,
	}
}

// NewRemoteFetchBlockedError はSSRF対策で画像取得先がブロックされた場合のエラーを生成する。
func NewRemoteFetchBlockedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeRemoteFetchBlocked,
		Message:  fmt.Sprintf("指定されたURLから画像を取得できません: %s", reason),
		Category: "validation",
		Action:   "公開されているWebサイトの画像URLを指定してください。",
		Kind:     KindValidation,
	}
}
