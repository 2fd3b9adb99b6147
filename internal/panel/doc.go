// Package panel serves the GPIO dashboard web UI as an embedded asset.
//
// The dashboard is a single static page embedded into the binary with
// go:embed. It authenticates with a bearer token pasted by the operator,
// shows the level of every user GPIO, drives outputs through the REST API
// and follows live gpio.state events over the WebSocket.
//
// Handler serves the assets with SPA fallback: unknown paths return
// index.html. Cache-control is no-cache since the assets are not hashed.
package panel
