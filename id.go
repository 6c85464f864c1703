package gpuflow

import "github.com/xraph/gpuflow/id"

// ID is the primary identifier type for all gpuflow entities.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix
