// Package contract defines the recurring-payment contract and its store
// interface.
//
// A contract is eligible for payment only while ACTIVE. Its NextPaymentDate
// is advanced exclusively by the execution engine after a successful
// transfer; everything else treats it as read-only.
package contract
