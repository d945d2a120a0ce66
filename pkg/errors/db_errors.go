// Package errors classifies storage errors coming out of GORM / MySQL so the
// data layer can map them onto domain errors (token conflicts, duplicates).
package errors

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
)

// DatabaseErrorType 数据库错误类别
type DatabaseErrorType int

const (
	ErrorTypeUnknown DatabaseErrorType = iota
	ErrorTypeNotFound
	// ErrorTypeDuplicateKey MySQL 1062
	ErrorTypeDuplicateKey
	// ErrorTypeInvalidJSON MySQL 3140-3143（raw_response 列）
	ErrorTypeInvalidJSON
	// ErrorTypeDataTooLong MySQL 1406
	ErrorTypeDataTooLong
	// ErrorTypeDeadlock MySQL 1213 / 1205，并发写同一行
	ErrorTypeDeadlock
	ErrorTypeConnection
)

func (t DatabaseErrorType) String() string {
	switch t {
	case ErrorTypeNotFound:
		return "not_found"
	case ErrorTypeDuplicateKey:
		return "duplicate_key"
	case ErrorTypeInvalidJSON:
		return "invalid_json"
	case ErrorTypeDataTooLong:
		return "data_too_long"
	case ErrorTypeDeadlock:
		return "deadlock"
	case ErrorTypeConnection:
		return "connection"
	default:
		return "unknown"
	}
}

// DatabaseError 带分类信息的数据库错误
type DatabaseError struct {
	Type         DatabaseErrorType
	OriginalErr  error
	MySQLErrCode uint16
}

func (e *DatabaseError) Error() string {
	if e.MySQLErrCode > 0 {
		return fmt.Sprintf("%s (MySQL error %d): %v", e.Type, e.MySQLErrCode, e.OriginalErr)
	}
	return fmt.Sprintf("%s: %v", e.Type, e.OriginalErr)
}

func (e *DatabaseError) Unwrap() error {
	return e.OriginalErr
}

// Contended 行锁竞争导致的失败：另一个写入者已经在处理同一行
func (e *DatabaseError) Contended() bool {
	return e != nil && e.Type == ErrorTypeDeadlock
}

var connectionMarkers = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"no such host",
	"i/o timeout",
	"invalid connection",
	"bad connection",
}

// ClassifyDBError 对 GORM / MySQL 错误分类，nil 返回 nil
func ClassifyDBError(err error) *DatabaseError {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &DatabaseError{Type: ErrorTypeNotFound, OriginalErr: err}
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return &DatabaseError{Type: ErrorTypeDuplicateKey, OriginalErr: err}
	}
	if errors.Is(err, mysql.ErrInvalidConn) {
		return &DatabaseError{Type: ErrorTypeConnection, OriginalErr: err}
	}

	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return &DatabaseError{Type: mysqlErrorType(mysqlErr.Number), OriginalErr: err, MySQLErrCode: mysqlErr.Number}
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range connectionMarkers {
		if strings.Contains(msg, marker) {
			return &DatabaseError{Type: ErrorTypeConnection, OriginalErr: err}
		}
	}
	return &DatabaseError{Type: ErrorTypeUnknown, OriginalErr: err}
}

func mysqlErrorType(code uint16) DatabaseErrorType {
	switch code {
	case 1062:
		return ErrorTypeDuplicateKey
	case 3140, 3141, 3142, 3143:
		return ErrorTypeInvalidJSON
	case 1406:
		return ErrorTypeDataTooLong
	case 1213, 1205: // deadlock, lock wait timeout
		return ErrorTypeDeadlock
	case 2002, 2003, 2006, 2013:
		return ErrorTypeConnection
	default:
		return ErrorTypeUnknown
	}
}

// IsDuplicateKeyError 唯一键冲突
func IsDuplicateKeyError(err error) bool {
	return ClassifyDBError(err).is(ErrorTypeDuplicateKey)
}

// IsInvalidJSONError JSON 列写入了非法内容
func IsInvalidJSONError(err error) bool {
	return ClassifyDBError(err).is(ErrorTypeInvalidJSON)
}

// IsContentionError 死锁或锁等待超时
func IsContentionError(err error) bool {
	return ClassifyDBError(err).Contended()
}

// IsConnectionError 数据库连接异常
func IsConnectionError(err error) bool {
	return ClassifyDBError(err).is(ErrorTypeConnection)
}

func (e *DatabaseError) is(t DatabaseErrorType) bool {
	return e != nil && e.Type == t
}
