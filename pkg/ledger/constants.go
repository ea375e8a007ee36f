package ledger

const (
	operationApply    = "apply"
	operationRegister = "register"
	operationSetTier  = "set_tier"
	operationAudit    = "audit"

	operationStatusOK    = "ok"
	operationStatusError = "error"

	memberCodeDigits = 10
	memberCodeMin    = "1000000001"
	memberCodeMax    = "9999999999"

	// Collision retries before member code generation gives up.
	memberCodeMaxAttempts = 10
)
