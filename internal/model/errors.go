// Package model はドメインモデルを定義する。
package model

import "fmt"

// ErrorKind はAPIエラーの分類を表す。HTTPステータスへの変換はハンドラー層で行う。
type ErrorKind string

const (
	KindValidation      ErrorKind = "validation"
	KindUnauthorized    ErrorKind = "unauthorized"
	KindConflict        ErrorKind = "conflict"
	KindNotFound        ErrorKind = "not_found"
	KindInvalidFileType ErrorKind = "invalid_file_type"
	KindUpstream        ErrorKind = "upstream"
	KindInternal        ErrorKind = "internal"
)

// APIError は統一エラーフォーマットを表す。
// Title はレスポンスの error フィールド、Message は message フィールドになる。
type APIError struct {
	Kind    ErrorKind
	Title   string
	Message string

	// CallerFault は KindUpstream のとき、原因が呼び出し側の入力にあるかを示す（400 or 500）。
	CallerFault bool

	// Err は原因となったエラー。ログ用でレスポンスには含めない。
	Err error
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %s: %v", e.Kind, e.Title, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Kind, e.Title, e.Message)
}

// Unwrap は原因エラーを返す。
func (e *APIError) Unwrap() error {
	return e.Err
}

// NewValidationError は入力不正エラーを生成する。
func NewValidationError(title, message string) *APIError {
	return &APIError{Kind: KindValidation, Title: title, Message: message}
}

// NewUnauthorizedError はセッション不正エラーを生成する。
func NewUnauthorizedError(message string) *APIError {
	return &APIError{Kind: KindUnauthorized, Title: "Unauthorized", Message: message}
}

// NewConflictError は一意性違反エラーを生成する。
func NewConflictError(title, message string) *APIError {
	return &APIError{Kind: KindConflict, Title: title, Message: message}
}

// NewNotFoundError はエンティティ未検出エラーを生成する。
func NewNotFoundError(title, message string) *APIError {
	return &APIError{Kind: KindNotFound, Title: title, Message: message}
}

// NewInvalidFileTypeError は許可されていないファイル種別のエラーを生成する。
func NewInvalidFileTypeError(message string) *APIError {
	return &APIError{Kind: KindInvalidFileType, Title: "Invalid file type", Message: message}
}

// NewUpstreamError は外部サービス（マジックリンク発行元、オブジェクトストレージ）起因のエラーを生成する。
// callerFault が true の場合は400、false の場合は500として扱われる。
func NewUpstreamError(title, message string, callerFault bool, err error) *APIError {
	return &APIError{
		Kind:        KindUpstream,
		Title:       title,
		Message:     message,
		CallerFault: callerFault,
		Err:         err,
	}
}

// NewInternalError は想定外のエラーを生成する。
func NewInternalError(message string, err error) *APIError {
	return &APIError{Kind: KindInternal, Title: "Internal server error", Message: message, Err: err}
}
