package protocol

// Rejection codes shared by events, logs and the session index.
const (
	ErrBadMessage       = "E_BAD_MESSAGE"
	ErrSpoofedPlayer    = "E_SPOOFED_PLAYER"
	ErrTickWindow       = "E_TICK_WINDOW"
	ErrUnauthorized     = "E_UNAUTHORIZED"
	ErrUnknownPeer      = "E_UNKNOWN_PEER"
	ErrStale            = "E_STALE"
	ErrRateLimit        = "E_RATE_LIMIT"
	ErrChecksumMismatch = "E_CHECKSUM_MISMATCH"
	ErrResync           = "E_RESYNC"
	ErrInternal         = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrBadMessage:       {},
	ErrSpoofedPlayer:    {},
	ErrTickWindow:       {},
	ErrUnauthorized:     {},
	ErrUnknownPeer:      {},
	ErrStale:            {},
	ErrRateLimit:        {},
	ErrChecksumMismatch: {},
	ErrResync:           {},
	ErrInternal:         {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
