package qube

import "errors"

var (
	// ErrClosed is returned by Add and Process when called after Close.
	ErrClosed = errors.New("qube: queue is closed")
	// ErrNotReady is returned by Add and Process if called before Init
	// has confirmed the notifier's subscription.
	ErrNotReady = errors.New("qube: queue is not ready, call Init first")
	// ErrJobNotFound is returned by GetStatus when the job id is unknown to
	// the store.
	ErrJobNotFound = errors.New("qube: job not found")
	// ErrAlreadyRegistered is returned by Process when called more than
	// once for the same queue name on the same process.
	ErrAlreadyRegistered = errors.New("qube: queue already has a registered callback")
)
