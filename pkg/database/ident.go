package database

import (
	"strings"

	"github.com/jackc/pgx/v5"
)

// QuoteIdent quotes a possibly schema-qualified identifier (schema.table)
// 식별자는 파라미터 바인딩이 안 되므로 여기서만 quoting
func QuoteIdent(name string) string {
	return pgx.Identifier(strings.Split(name, ".")).Sanitize()
}
