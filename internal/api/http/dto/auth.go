package dto

// LoginRequest accepts the account identifier as either email or username.
type LoginRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password" binding:"required"`
}

func (r LoginRequest) Identifier() string {
	if r.Email != "" {
		return r.Email
	}
	return r.Username
}

type LoginResponse struct {
	Token string `json:"token"`
	Email string `json:"email"`
}
