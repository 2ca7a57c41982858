package file

import "github.com/loomhq/loomgate/internal/pairing"

// FilePairingStore wraps pairing.Service to implement store.PairingStore.
type FilePairingStore struct {
	svc *pairing.Service
}

func NewFilePairingStore(svc *pairing.Service) *FilePairingStore {
	return &FilePairingStore{svc: svc}
}

func (f *FilePairingStore) Service() *pairing.Service { return f.svc }

func (f *FilePairingStore) RequestPairing(userID, channel, chatID, agentID string) (string, error) {
	return f.svc.RequestPairing(userID, channel, chatID, agentID)
}

func (f *FilePairingStore) IsPaired(userID, channel string) bool {
	return f.svc.IsPaired(userID, channel)
}
