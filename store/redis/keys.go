package redis

// All keys are prefixed with "paysched:" to avoid collisions.
const keyPrefix = "paysched:"

// leaseKey returns the key holding a lease's holder: paysched:lease:{name}
func leaseKey(name string) string { return keyPrefix + "lease:" + name }
