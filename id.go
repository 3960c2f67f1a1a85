package paysched

import "github.com/xraph/paysched/id"

// ID is the primary identifier type for all paysched entities.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix
