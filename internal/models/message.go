package models

import "gorm.io/gorm"

// Message is an append-only record of one inbound chat webhook. Never updated
// after insert; kept for audit and for debugging correlation misses.
type Message struct {
	gorm.Model

	Text      string `json:"text"`
	From      string `json:"from" gorm:"index"` // normalized phone digits
	ClientRef string `json:"client_ref" gorm:"index"`
	ServerIP  string `json:"server_ip"`
}
