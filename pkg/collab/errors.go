package collab

import "errors"

// ErrNotConnected is returned by Broadcast when the channel has no live
// connection (e.g. during a reconnect window). Frames are not queued.
var ErrNotConnected = errors.New("collaboration channel not connected")
