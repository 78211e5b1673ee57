package chrome

import "errors"

// Pool errors - returned during instance acquisition and management
var (
	ErrPoolShutdown     = errors.New("pool is shutting down")
	ErrAcquireTimeout   = errors.New("no browser instance available within acquisition deadline")
	ErrInstanceCreation = errors.New("browser instance failed to start")
)
