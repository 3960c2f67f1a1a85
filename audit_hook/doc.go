// Package audithook is a paysched extension that writes payment lifecycle
// events to an append-only audit trail.
//
// Every execution and run hook emits a structured audit event through the
// [Recorder] interface. Severity is info for created, settled and skipped
// payments, warning for retries and critical for payments that ran out of
// attempts. Metadata carries the contract, period, amount and ledger
// receipt.
//
// # Usage
//
//	eng, _ := engine.New(st, client,
//	    engine.WithExtension(audithook.New(audithook.RecorderFunc(
//	        func(ctx context.Context, evt *audithook.AuditEvent) error {
//	            return auditLog.Append(ctx, evt)
//	        },
//	    ))),
//	)
//
// # Selective filtering
//
//	audithook.New(recorder,
//	    audithook.WithActions(
//	        audithook.ActionPaymentSucceeded,
//	        audithook.ActionPaymentFailed,
//	    ),
//	)
package audithook
