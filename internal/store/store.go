package store

import (
	"errors"

	"github.com/go-sql-driver/mysql"
)

var (
	// ErrNotFound 表示记录不存在（或不属于当前用户，二者对外不可区分）。
	ErrNotFound = errors.New("record not found")
	// ErrDuplicateEmail 表示邮箱已被注册（依赖数据库唯一索引）。
	ErrDuplicateEmail = errors.New("email already registered")
)

// isDuplicateKey 判断是否为 MySQL 唯一键冲突 (1062)。
func isDuplicateKey(err error) bool {
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == 1062
}
