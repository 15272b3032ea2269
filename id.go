package courier

import "github.com/xraph/courier/id"

// ID is the primary identifier type for generated Courier entities.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix
