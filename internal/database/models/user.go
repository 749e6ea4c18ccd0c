package models

import "time"

// User is a Telegram user who has talked to the bot.
type User struct {
	UserID    int64     `gorm:"column:user_id;primaryKey;autoIncrement:false"`
	Username  *string   `gorm:"column:username;size:128"`
	FullName  string    `gorm:"column:full_name;size:128;not null"`
	Active    bool      `gorm:"column:active;not null;default:true"`
	Language  string    `gorm:"column:language;size:10;not null;default:'en'"`
	CreatedAt time.Time `gorm:"column:created_at;not null;default:now()"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null;default:now()"`
}

func (User) TableName() string { return "users" }
