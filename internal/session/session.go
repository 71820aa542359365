// Package session holds the negotiated per-Channel handshake parameters.
// It is intentionally a bare data record (spec.md §9, "Session as nullable
// configuration"): callers that need a session check for nil rather than
// type-switching on a variant.
package session

// Session is the negotiated parameters shared between peers after the
// handshake (spec.md §3). CrcLength is one of {0,1,2,3,4}.
type Session struct {
	SessionID        uint32
	CrcLength        uint8
	CrcSeed          uint32
	AllowCompression bool
	UseEncryption    bool
}
