package errors

// ErrorCode represents a unique error code for identifying different error types.
type ErrorCode int

const (
	// General errors (1-99)
	ErrCodeUnknown ErrorCode = 1

	// Validation errors (100-199)
	ErrCodeInvalidParameter     ErrorCode = 100
	ErrCodeInvalidConfiguration ErrorCode = 101
	ErrCodeInvalidLeverage      ErrorCode = 102
	ErrCodeInvalidStopMode      ErrorCode = 103
	ErrCodeInvalidSizerMode     ErrorCode = 104
	ErrCodeInvalidCommission    ErrorCode = 105

	// Data errors (200-299)
	ErrCodeDataEmpty             ErrorCode = 200
	ErrCodeDataNotSorted         ErrorCode = 201
	ErrCodeDataColumnMissing     ErrorCode = 202
	ErrCodeDataSourceUnavailable ErrorCode = 203
	ErrCodeQueryFailed           ErrorCode = 204

	// Strategy errors (300-399)
	ErrCodeStrategyNotLoaded    ErrorCode = 300
	ErrCodeStrategyConfigError  ErrorCode = 301
	ErrCodeSignalLengthMismatch ErrorCode = 302

	// Backtest errors (400-499)
	ErrCodeBacktestInitFailed  ErrorCode = 400
	ErrCodeBacktestRunFailed   ErrorCode = 401
	ErrCodeLedgerWriteFailed   ErrorCode = 402
	ErrCodeLedgerStatsFailed   ErrorCode = 403
)
