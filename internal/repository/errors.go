package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"syscall"

	"github.com/jackc/pgerrcode"
	"github.com/lib/pq"
)

var (
	// ErrConstraintViolation は一意制約・外部キー制約・NOT NULL制約などへの違反を表す。
	ErrConstraintViolation = errors.New("constraint violation")

	// ErrUpstreamUnavailable はデータベースに接続できないことを表す。
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
)

// ConstraintKind は制約違反の種類。
type ConstraintKind string

const (
	ConstraintUnique     ConstraintKind = "unique"
	ConstraintForeignKey ConstraintKind = "foreign_key"
	ConstraintNotNull    ConstraintKind = "not_null"
	ConstraintCheck      ConstraintKind = "check"
)

// ConstraintError は制約違反の詳細を保持する。
// errors.Is(err, ErrConstraintViolation) が真になる。
type ConstraintError struct {
	Kind       ConstraintKind
	Constraint string
	Column     string
	err        error
}

func (e *ConstraintError) Error() string {
	if e.Constraint != "" {
		return fmt.Sprintf("%s constraint %q violated: %v", e.Kind, e.Constraint, e.err)
	}
	return fmt.Sprintf("%s constraint violated: %v", e.Kind, e.err)
}

// Is は ErrConstraintViolation との比較で真を返す。
func (e *ConstraintError) Is(target error) bool {
	return target == ErrConstraintViolation
}

func (e *ConstraintError) Unwrap() error {
	return e.err
}

// upstreamError は接続障害を元のエラーと ErrUpstreamUnavailable の両方として扱えるようにする。
type upstreamError struct {
	err error
}

func (e *upstreamError) Error() string {
	return fmt.Sprintf("%v: %v", ErrUpstreamUnavailable, e.err)
}

func (e *upstreamError) Is(target error) bool {
	return target == ErrUpstreamUnavailable
}

func (e *upstreamError) Unwrap() error {
	return e.err
}

// ClassifyError はデータベースのエラーを分類する。
// 制約違反は *ConstraintError に、接続障害は ErrUpstreamUnavailable として判定できるエラーに変換する。
// それ以外はそのまま返す。nilにはnilを返す。
func ClassifyError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrConstraintViolation) || errors.Is(err, ErrUpstreamUnavailable) {
		return err
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		code := string(pqErr.Code)
		switch code {
		case pgerrcode.UniqueViolation:
			return &ConstraintError{Kind: ConstraintUnique, Constraint: pqErr.Constraint, Column: pqErr.Column, err: err}
		case pgerrcode.ForeignKeyViolation:
			return &ConstraintError{Kind: ConstraintForeignKey, Constraint: pqErr.Constraint, Column: pqErr.Column, err: err}
		case pgerrcode.NotNullViolation:
			return &ConstraintError{Kind: ConstraintNotNull, Constraint: pqErr.Constraint, Column: pqErr.Column, err: err}
		case pgerrcode.CheckViolation:
			return &ConstraintError{Kind: ConstraintCheck, Constraint: pqErr.Constraint, Column: pqErr.Column, err: err}
		case pgerrcode.AdminShutdown, pgerrcode.CrashShutdown, pgerrcode.CannotConnectNow, pgerrcode.TooManyConnections:
			return &upstreamError{err: err}
		}
		if pgerrcode.IsConnectionException(code) {
			return &upstreamError{err: err}
		}
		return err
	}

	if isConnectionFailure(err) {
		return &upstreamError{err: err}
	}
	return err
}

// isConnectionFailure はドライバーやネットワーク層の接続失敗かどうかを判定する。
func isConnectionFailure(err error) bool {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	// リクエスト側のキャンセルは接続障害として扱わない
	if errors.Is(err, context.Canceled) {
		return false
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// ConstraintKindOf は制約違反の種類を返す。制約違反でない場合は空文字と false を返す。
func ConstraintKindOf(err error) (ConstraintKind, bool) {
	var ce *ConstraintError
	if errors.As(err, &ce) {
		return ce.Kind, true
	}
	return "", false
}

// wrap は操作名を付けてエラーを分類・ラップする。
func wrap(op string, err error) error {
	return fmt.Errorf("%s: %w", op, ClassifyError(err))
}
