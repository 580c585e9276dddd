package repository

import (
	"github.com/safepay/escrow-gateway/internal/model"
)

type UserEntity struct {
	ID            int64  `db:"id"             gorm:"primaryKey;autoIncrement;column:id"`
	PhoneNumber   string `db:"phone_number"   gorm:"column:phone_number;not null;unique"`
	FullName      string `db:"full_name"      gorm:"column:full_name;not null"`
	UserType      string `db:"user_type"      gorm:"column:user_type;not null"`
	WalletBalance int64  `db:"wallet_balance" gorm:"column:wallet_balance;not null;default:0"`
}

func (UserEntity) TableName() string {
	return "users"
}

func toUserEntity(m *model.User) *UserEntity {
	if m == nil {
		return nil
	}
	return &UserEntity{
		ID:            m.ID,
		PhoneNumber:   m.PhoneNumber,
		FullName:      m.FullName,
		UserType:      string(m.UserType),
		WalletBalance: int64(m.WalletBalance),
	}
}

func toUserModel(e *UserEntity) *model.User {
	if e == nil {
		return nil
	}
	return &model.User{
		ID:            e.ID,
		PhoneNumber:   e.PhoneNumber,
		FullName:      e.FullName,
		UserType:      model.UserType(e.UserType),
		WalletBalance: model.Money(e.WalletBalance),
	}
}
