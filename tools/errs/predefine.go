package errs

// relay error codes
const (
	ServerInternalError = 500
	ArgsError           = 1000

	SendQueueFullError     = 1001
	ConnClosedError        = 1002
	TooManyConnectionsErr  = 1003
	PoolSaturatedError     = 1101
	PoolClosedError        = 1102
	ProviderInitError      = 1201
	NoTranslationError     = 1202
	BrokerUnavailableError = 1301
)

var (
	ErrInternalServer     = NewCodeError(ServerInternalError, "ServerInternalError")
	ErrArgs               = NewCodeError(ArgsError, "ArgsError")
	ErrSendQueueFull      = NewCodeError(SendQueueFullError, "SendQueueFull")
	ErrConnClosed         = NewCodeError(ConnClosedError, "ConnClosed")
	ErrTooManyConnections = NewCodeError(TooManyConnectionsErr, "TooManyConnections")
	ErrPoolSaturated      = NewCodeError(PoolSaturatedError, "PoolSaturated")
	ErrPoolClosed         = NewCodeError(PoolClosedError, "PoolClosed")
	ErrProviderInit       = NewCodeError(ProviderInitError, "ProviderInitFailed")
	ErrNoTranslation      = NewCodeError(NoTranslationError, "NoTranslation")
	ErrBrokerUnavailable  = NewCodeError(BrokerUnavailableError, "BrokerUnavailable")
)
