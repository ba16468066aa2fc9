package repository

import (
	"database/sql"
	"errors"
	"strings"

	"github.com/lib/pq"
)

// PostgreSQLのエラーコード
const (
	pqUniqueViolation     = "23505"
	pqForeignKeyViolation = "23503"
	// UUID列にUUIDとして解釈できない文字列を渡した場合のコード
	pqInvalidTextRepresentation = "22P02"
)

// isPQError はエラーチェーンに指定コードのpq.Errorが含まれるかを判定する。
func isPQError(err error, code string) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == code
	}
	return false
}

// isNoRow は該当行なしとして扱うエラーかを判定する。
// UUIDとして不正なIDはどの行にも一致しないため、該当なしと同じ扱いにする。
func isNoRow(err error) bool {
	return errors.Is(err, sql.ErrNoRows) || isPQError(err, pqInvalidTextRepresentation)
}

// escapeLike はLIKE/ILIKEパターンの特殊文字をエスケープする。
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
