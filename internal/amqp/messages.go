package amqp

import (
	"encoding/json"
	"errors"
	"time"
)

var ErrEmptyAccountID = errors.New("sync message has empty account id")

// AccountSyncMessage asks the worker to sync one account. It carries only
// identifiers; the worker loads the account state from the database.
type AccountSyncMessage struct {
	AccountID string    `json:"account_id"`
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

func NewAccountSyncMessage(accountID, requestID string) *AccountSyncMessage {
	return &AccountSyncMessage{
		AccountID: accountID,
		RequestID: requestID,
		Timestamp: time.Now(),
	}
}

func (m *AccountSyncMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// AccountSyncMessageFromJSON parses and validates a message body. A payload
// without an account id is malformed, not retryable.
func AccountSyncMessageFromJSON(data []byte) (*AccountSyncMessage, error) {
	var msg AccountSyncMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.AccountID == "" {
		return nil, ErrEmptyAccountID
	}
	return &msg, nil
}
