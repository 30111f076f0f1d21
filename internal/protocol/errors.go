package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"

	// Per-tick sub-action outcomes. None of them stop the tick.
	ErrInvalidAction = "E_INVALID_ACTION"
	ErrNotFound      = "E_NOT_FOUND"
	ErrInvalidSwap   = "E_INVALID_SWAP"
	ErrUnreachable   = "E_UNREACHABLE"

	ErrBadRequest = "E_BAD_REQUEST"
	ErrInternal   = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrInvalidAction:   {},
	ErrNotFound:        {},
	ErrInvalidSwap:     {},
	ErrUnreachable:     {},
	ErrBadRequest:      {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
