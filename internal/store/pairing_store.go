package store

// PairingStore gates a new channel user behind an owner-approved pairing
// code before the gateway routes their messages to an agent.
type PairingStore interface {
	RequestPairing(userID, channel, chatID, agentID string) (code string, err error)
	IsPaired(userID, channel string) bool
}
