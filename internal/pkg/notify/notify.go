package notify

// Notifier 定义通知接口。
type Notifier interface {
	// SendPasswordReset 发送密码重置邮件。
	//
	// 参数:
	//   toEmail: 接收邮箱
	//   name: 用户显示名称
	//   resetToken: 明文重置令牌（只出现在邮件里，库中存哈希）
	//   ttlMinutes: 令牌有效期（分钟）
	SendPasswordReset(toEmail string, name string, resetToken string, ttlMinutes int) error
}
