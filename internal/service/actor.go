package service

import "talanoor-go/internal/model"

// Actor 是发起操作的一方：已登录用户（可能是管理员）或持有访客令牌的游客。
type Actor struct {
	User       *model.User
	GuestToken string
}

// UserActor 构造已登录用户的 Actor。
func UserActor(u *model.User) Actor {
	return Actor{User: u}
}

// GuestActor 构造游客 Actor，token 是创建对话时下发的访客令牌。
func GuestActor(guestToken string) Actor {
	return Actor{GuestToken: guestToken}
}

func (a Actor) IsAdmin() bool {
	return a.User != nil && a.User.IsAdmin()
}

func (a Actor) IsGuest() bool {
	return a.User == nil
}
