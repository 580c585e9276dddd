package model

type UserType string

const (
	UserTypeBuyer  UserType = "buyer"
	UserTypeSeller UserType = "seller"
	UserTypeRider  UserType = "rider"
)

type User struct {
	ID            int64    `json:"id"`
	PhoneNumber   string   `json:"phone_number"`
	FullName      string   `json:"full_name"`
	UserType      UserType `json:"user_type"`
	WalletBalance Money    `json:"wallet_balance"`
}

func (User) TableName() string { return "users" }
