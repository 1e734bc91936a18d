// Command redlightd watches an intersection video for vehicles entering the
// stop zone on a red or yellow light, records each violation with a short
// clip and serves control, queries and the annotated live stream over HTTP.
//
// Usage:
//
//	redlightd -config configs/redlight.yaml -autostart
//
// Flags:
//
//	-config      YAML configuration file (defaults are used when empty)
//	-listen      HTTP bind address, overrides http.addr
//	-source      video file or stream URL, overrides source.path
//	-autostart   start processing right away instead of waiting for POST /start
//
// The process stops the pipeline and shuts the server down on SIGINT/SIGTERM.
package main
