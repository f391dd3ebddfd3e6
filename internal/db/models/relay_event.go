package models

import "time"

// RelayEvent is one relay publish attempt kept in the command journal
type RelayEvent struct {
	Seq      uint      `gorm:"primaryKey;autoIncrement" json:"-"`
	ID       string    `gorm:"type:varchar(36);uniqueIndex;not null" json:"id"`
	Time     time.Time `gorm:"index;not null" json:"time"`
	Intent   string    `gorm:"type:varchar(32);index;not null" json:"intent"`
	Command  string    `gorm:"type:varchar(8);not null" json:"command"`
	Topic    string    `gorm:"type:varchar(255)" json:"topic"`
	Accepted bool      `gorm:"not null" json:"accepted"`
	Error    string    `json:"error,omitempty"`
}

// TableName overrides the table name for RelayEvent
func (RelayEvent) TableName() string {
	return "relay_events"
}
