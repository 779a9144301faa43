package repository

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/hitoshi/guidehub/internal/model"
)

// queryBuilder はWHERE句とプレースホルダー引数を組み立てる。
type queryBuilder struct {
	conds []string
	args  []any
}

// arg は引数を追加し、対応するプレースホルダー（$n）を返す。
func (b *queryBuilder) arg(v any) string {
	b.args = append(b.args, v)
	return fmt.Sprintf("$%d", len(b.args))
}

// where は条件を追加する。
func (b *queryBuilder) where(cond string) {
	b.conds = append(b.conds, cond)
}

// whereClause は " WHERE a AND b" 形式の文字列を返す。条件がなければ空文字を返す。
func (b *queryBuilder) whereClause() string {
	if len(b.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(b.conds, " AND ")
}

// page はORDER BY / LIMIT / OFFSET 句を返す。
// SortBy は allowed に含まれる場合のみ使用し、それ以外は defaultColumn の降順にする。
// 同順位の並びを安定させるため idColumn を第2キーにする。
func (b *queryBuilder) page(opts model.ListOptions, allowed map[string]string, defaultColumn, idColumn string) string {
	opts = opts.Normalize()

	column, ok := allowed[opts.SortBy]
	order := "DESC"
	if !ok {
		column = defaultColumn
	} else if opts.SortOrder == model.SortAsc {
		order = "ASC"
	}

	return fmt.Sprintf(" ORDER BY %s %s NULLS LAST, %s %s LIMIT %s OFFSET %s",
		column, order, idColumn, order, b.arg(opts.Limit), b.arg(opts.Offset))
}

// updateBuilder はUPDATE文のSET句を組み立てる。
type updateBuilder struct {
	queryBuilder
	sets []string
}

// set は column = $n を追加する。
func (u *updateBuilder) set(column string, v any) {
	u.sets = append(u.sets, column+" = "+u.arg(v))
}

// empty は更新項目がない場合に true を返す。
func (u *updateBuilder) empty() bool {
	return len(u.sets) == 0
}

// setClause は "a = $1, b = $2, updated_at = now()" 形式の文字列を返す。
func (u *updateBuilder) setClause() string {
	return strings.Join(append(u.sets, "updated_at = now()"), ", ")
}

// likePattern はILIKE用に特殊文字をエスケープした部分一致パターンを返す。
func likePattern(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(s) + "%"
}

// nullString は空文字をNULLとして扱うsql.NullStringを返す。
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullStringValue はsql.NullStringから文字列を取得する。
func nullStringValue(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

// nullTimePtr はsql.NullTimeを *time.Time 相当に変換する。
func nullTimePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}
