package domain

import "time"

// InboxKey identifica un mensaje consumido por un grupo de consumidores.
// TenantID vacío representa "sin tenant".
type InboxKey struct {
	TenantID      string
	ConsumerGroup string
	EventID       string
}

type InboxRecord struct {
	InboxKey
	ReceivedAt time.Time
}
