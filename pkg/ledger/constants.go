package ledger

const (
	operationCreate          = "create"
	operationCharge          = "charge"
	operationPay             = "pay"
	operationBan             = "ban"
	operationBind            = "bind_invite_code"
	operationTokenUsage      = "record_token_usage"
	operationViolation       = "record_violation"
	operationActivity        = "record_activity"
	operationStatusOK        = "ok"
	operationStatusError     = "error"
	operationStatusOverdraft = "overdraft"

	inviteCodeAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// Operation names reported through OperationLog.Operation.
const (
	OperationCreate     = operationCreate
	OperationCharge     = operationCharge
	OperationPay        = operationPay
	OperationBan        = operationBan
	OperationBind       = operationBind
	OperationTokenUsage = operationTokenUsage
	OperationViolation  = operationViolation
	OperationActivity   = operationActivity
)

// Status values reported through OperationLog.Status.
const (
	StatusOK        = operationStatusOK
	StatusError     = operationStatusError
	StatusOverdraft = operationStatusOverdraft
)
