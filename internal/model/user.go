package model

import "time"

// User 表示系统用户。
//
// Password 存储 bcrypt 哈希，任何对外序列化都必须通过 DTO 剥离该字段。
// PasswordChangedAt 用于令牌失效判断：签发时间早于该时间的 JWT 一律拒绝。
type User struct {
	ID        uint      `gorm:"primaryKey"` // 用户 ID
	CreatedAt time.Time // 创建时间
	UpdatedAt time.Time // 更新时间

	Name         string `gorm:"type:varchar(50);not null"`              // 显示名称
	Email        string `gorm:"type:varchar(191);uniqueIndex;not null"` // 邮箱（唯一，存储时统一小写）
	Password     string `gorm:"not null"`                               // bcrypt 哈希
	Avatar       string `gorm:"type:varchar(512)"`                      // 头像 URL
	MobileNumber string `gorm:"type:varchar(20)"`                       // 手机号
	Role         string `gorm:"type:varchar(16);default:user"`          // 角色: user / admin
	IsActive     bool   `gorm:"default:true"`                           // 账号是否启用

	LastLogin         *time.Time // 最近登录时间
	PasswordChangedAt *time.Time // 最近修改密码时间

	PasswordResetToken   string     `gorm:"type:varchar(64)"` // 密码重置令牌（sha256 哈希）
	PasswordResetExpires *time.Time // 重置令牌过期时间

	Tasks []Task `gorm:"foreignKey:UserID"`
}

// ChangedPasswordAfter 判断密码是否在给定时间之后被修改过。
//
// JWT 的 iat 只有秒级精度，比较前先截断，避免同一秒内签发的令牌被误伤。
func (u *User) ChangedPasswordAfter(issuedAt time.Time) bool {
	if u.PasswordChangedAt == nil {
		return false
	}
	return issuedAt.Truncate(time.Second).Before(u.PasswordChangedAt.Truncate(time.Second))
}
