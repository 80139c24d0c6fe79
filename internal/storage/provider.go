package storage

import "reel/internal/ports"

// Provider is the storage contract used by the API, the worker and the sweeper.
type Provider = ports.StorageProvider
