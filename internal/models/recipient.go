package models

// Subscriber is a single registry record with its address field projected.
// Address is whatever the registry stored, which may be nil or a non-string.
type Subscriber struct {
	ID      string
	Address interface{}
}

// Recipient is an admin device that can receive push notifications.
type Recipient struct {
	Address string `json:"address"`
}

// RecipientFromSubscriber returns the recipient for s, or false when the
// subscriber has no usable address on file.
func RecipientFromSubscriber(s Subscriber) (Recipient, bool) {
	addr, ok := s.Address.(string)
	if !ok || addr == "" {
		return Recipient{}, false
	}
	return Recipient{Address: addr}, true
}
