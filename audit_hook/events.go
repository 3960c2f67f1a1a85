package audithook

// Audit event actions. Each constant corresponds to one ext lifecycle hook
// and becomes the Action field of the audit event.
const (
	ActionExecutionCreated = "payment.created"
	ActionPaymentSucceeded = "payment.succeeded"
	ActionPaymentSkipped   = "payment.skipped"
	ActionPaymentRetrying  = "payment.retrying"
	ActionPaymentFailed    = "payment.failed"
	ActionRunCompleted     = "run.completed"
)

// Audit event categories group related actions.
const (
	CategoryPayment = "paysched.payment"
	CategoryRun     = "paysched.run"
)

// Resource types used as the Resource field in audit events.
const (
	ResourceExecution = "execution"
	ResourceRun       = "daily_run"
)

// AllActions returns every action this extension can emit.
func AllActions() []string {
	return []string{
		ActionExecutionCreated,
		ActionPaymentSucceeded,
		ActionPaymentSkipped,
		ActionPaymentRetrying,
		ActionPaymentFailed,
		ActionRunCompleted,
	}
}
