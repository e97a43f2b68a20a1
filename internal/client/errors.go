package client

import "errors"

// ErrCouldNotConnect classifies connection failures (auth, unreachable
// host, handshake timeout). It is returned wrapped by every backend's
// Connect and is fatal to that connection attempt; connects are not
// retried internally.
var ErrCouldNotConnect = errors.New("could not connect")

// ErrNotFound classifies lookups that matched nothing (local path
// resolution, Slack file lookups).
var ErrNotFound = errors.New("not found")
