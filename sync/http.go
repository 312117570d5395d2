package sync

import "time"

// HTTPRequestTimeout is the default timeout for all HTTP requests to subgraph endpoints.
const HTTPRequestTimeout = 60 * time.Second

// StoreOperationTimeout is the default timeout for a single document store operation.
const StoreOperationTimeout = 30 * time.Second
