package models

import "time"

type User struct {
	Name         string    `json:"name"`
	PasswordHash string    `json:"-"` // Don't expose in JSON
	IsAdmin      bool      `json:"is_admin"`
	Namespace    string    `json:"namespace"`
	CreatedAt    time.Time `json:"created_at"`
}

// Screenshot is identified by its owner and filename.
type Screenshot struct {
	Owner    string `json:"owner"`
	Filename string `json:"filename"`
}

// FlashCategory is presentation-only; no logic branches on it.
type FlashCategory string

const (
	FlashSuccess FlashCategory = "success"
	FlashError   FlashCategory = "error"
	FlashNotice  FlashCategory = "notice"
)

type Flash struct {
	Text     string        `json:"text"`
	Category FlashCategory `json:"category"`
}
