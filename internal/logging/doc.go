// Package logging provides structured logging for the askrepo services.
// Logs are written as JSON lines to a size-rotated file under
// ~/.askrepo/logs/ and teed to stderr. When stderr is a terminal the tee
// switches to a human-readable text handler.
//
// MCP mode disables the stderr tee entirely because the stdio transport
// owns both standard streams.
package logging
