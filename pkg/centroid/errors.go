package centroid

import "errors"

var (
	ErrEmptyCube          = errors.New("image cube is empty")
	ErrShapeMismatch      = errors.New("shape mismatch")
	ErrInvalidWindowSize  = errors.New("window size must be a positive integer")
	ErrWindowTooSmall     = errors.New("window holds fewer pixels than model parameters")
	ErrWindowOutOfBounds  = errors.New("window extends outside the frame")
	ErrUnknownMethod      = errors.New("unknown fit method")
	ErrCoordinatorClosed  = errors.New("coordinator is closed")
	ErrInvalidWorkerCount = errors.New("worker count must be positive")
)
