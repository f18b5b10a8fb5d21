package student

import (
	"database/sql"
	"time"
)

// Student represents a learner. WalletAddress is optional until the student
// links a wallet; on-chain rewards require it.
type Student struct {
	ID            int64
	DisplayName   string
	WalletAddress sql.NullString
	TelegramID    sql.NullInt64 // for reward notifications
	CreatedAt     time.Time
}

func (s *Student) HasWallet() bool {
	return s.WalletAddress.Valid && s.WalletAddress.String != ""
}
