// Package ext defines the extension system for paysched.
//
// Extensions are notified of payment lifecycle events and can react to
// them: recording metrics, notifying the payer and receiver, writing audit
// logs. Each lifecycle hook is a separate interface so extensions opt in
// only to the events they care about.
//
// # Implementing an Extension
//
//	type Notifier struct{}
//
//	func (n *Notifier) Name() string { return "notifier" }
//
//	func (n *Notifier) OnPaymentSucceeded(ctx context.Context, e *execution.Execution, c *contract.Contract, _ time.Duration) error {
//	    return sendPaymentSuccess(ctx, c.ReceiverWallet, e.FinalValue, e.TxHash)
//	}
//
// # Payment Hooks
//
//   - [ExecutionCreated]: an execution was persisted in PROCESSING
//   - [PaymentSucceeded]: the transfer settled
//   - [PaymentSkipped]: the period was already paid, or the run is a dry run
//   - [PaymentRetrying]: an attempt failed and another is scheduled
//   - [PaymentFailed]: the last attempt failed
//
// # Other Hooks
//
//   - [RunCompleted]: a daily run finished
//   - [Shutdown]: the scheduler is stopping
//
// The [Registry] fans out each event to all registered extensions that
// implement the corresponding hook interface.
package ext
