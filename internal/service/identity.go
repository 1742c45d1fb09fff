package service

// Identity 是显式传入每个操作的调用者身份，取代全局会话状态。
// 未认证调用对应零值。
type Identity struct {
	UserID string
}

func (id Identity) Authenticated() bool {
	return id.UserID != ""
}
