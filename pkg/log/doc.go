/*
Package log provides structured logging for hierdb using zerolog.

The log package wraps the zerolog library to provide JSON-structured logging with
component-specific loggers, configurable log levels, and helper functions for
common logging patterns. All logs include timestamps and support filtering by
severity level for production debugging.

# Architecture

hierdb's logging system provides structured JSON logging with minimal overhead:

	┌──────────────────── LOGGING SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │            Global Logger                    │          │
	│  │  - Zerolog instance                         │          │
	│  │  - Initialized via log.Init()               │          │
	│  │  - Thread-safe for concurrent use           │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Configuration                     │          │
	│  │  - Level: debug/info/warn/error             │          │
	│  │  - Format: JSON or console (human)          │          │
	│  │  - Output: stdout, file, or custom writer   │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │         Component Loggers                   │          │
	│  │  - WithComponent("writeback")                │          │
	│  │  - WithIndex(kv.BlockIndex)                  │          │
	│  │  - WithTxName("t1")                         │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │            Log Output                       │          │
	│  │                                              │          │
	│  │  JSON Format:                               │          │
	│  │  {                                           │          │
	│  │    "level": "info",                         │          │
	│  │    "component": "writeback",                │          │
	│  │    "time": "2024-10-13T10:30:00Z",         │          │
	│  │    "message": "flush complete"               │          │
	│  │  }                                           │          │
	│  │                                              │          │
	│  │  Console Format:                            │          │
	│  │  2024-10-13T10:30:00Z INF flush complete component=writeback │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Core Components

Global Logger:
  - Package-level zerolog.Logger instance
  - Initialized once via log.Init()
  - Accessible from all hierdb packages
  - Thread-safe concurrent writes

Log Levels:
  - Debug: Detailed debugging information
  - Info: General informational messages
  - Warn: Warning messages (potential issues)
  - Error: Error messages (operation failed)
  - Fatal: Critical errors (process exits)

Configuration:
  - Level: Filter messages below threshold
  - JSONOutput: JSON vs human-readable console
  - Output: io.Writer for log destination (stdout, file)

Context Loggers:
  - WithComponent: Add component name to all logs
  - WithIndex: Add the logical index a line pertains to
  - WithTxName: Add a HierarchicalDB node name

# Log Levels

Debug Level:
  - Purpose: Detailed debugging information
  - Usage: Development and troubleshooting
  - Performance: Verbose, may impact production
  - Example: "cache miss index=BLOCKS key=..."

Info Level:
  - Purpose: General informational messages
  - Usage: Default production level
  - Performance: Moderate volume
  - Example: "flush complete entries=128 bytes=4096"

Warn Level:
  - Purpose: Potential issues or unexpected conditions
  - Usage: Situations that may require attention
  - Performance: Low volume
  - Example: "backend map resize triggered"

Error Level:
  - Purpose: Operation failures that need investigation
  - Usage: Failed operations, exceptions
  - Performance: Low volume
  - Example: "flush failed: backend commit error"

Fatal Level:
  - Purpose: Critical errors causing process termination
  - Usage: Unrecoverable errors only
  - Behavior: Logs message and exits process (os.Exit(1))
  - Example: "failed to open store: %v"

# Usage

Initializing the Logger:

	import "github.com/nebliotech/hierdb/pkg/log"

	// JSON output (production)
	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

	// Console output (development)
	log.Init(log.Config{
		Level:      log.DebugLevel,
		JSONOutput: false,
		Output:     os.Stdout,
	})

	// Custom output (file)
	file, _ := os.OpenFile("/var/log/hierdb.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     file,
	})

Simple Logging:

	log.Info("store opened")
	log.Debug("cache miss")
	log.Warn("approaching flush threshold")
	log.Error("flush failed")
	log.Fatal("cannot open data directory") // Exits process

Structured Logging:

	log.Logger.Info().
		Str("index", kv.BlockIndex.String()).
		Int("entries", 128).
		Msg("flush complete")

	log.Logger.Error().
		Err(err).
		Str("tx", "t1").
		Msg("commit failed")

Component Loggers:

	// Create component-specific logger
	cacheLog := log.WithComponent("writeback")
	cacheLog.Info().Msg("flush started")
	cacheLog.Debug().Str("key", key).Msg("cache miss")

	// Multiple context fields
	txLog := log.WithComponent("txdb").
		With().Str("tx", "t1").Logger()
	txLog.Info().Msg("transaction started")
	txLog.Error().Err(err).Msg("commit failed")

Context Logger Helpers:

	// Index-specific logs
	idxLog := log.WithIndex(kv.Stakes)
	idxLog.Info().Msg("index flushed")

	// Transaction-specific logs
	txLog := log.WithTxName("t1")
	txLog.Info().Msg("transaction committed")

Complete Example:

	package main

	import (
		"errors"
		"os"
		"github.com/nebliotech/hierdb/pkg/log"
	)

	func main() {
		// Initialize logger
		log.Init(log.Config{
			Level:      log.InfoLevel,
			JSONOutput: true,
			Output:     os.Stdout,
		})

		log.Info("hierdb starting")

		// Component-specific logging
		cacheLog := log.WithComponent("writeback")
		cacheLog.Info().
			Int("entries", 5).
			Msg("flush triggered")

		// Error logging
		err := errors.New("disk full")
		log.Logger.Error().
			Err(err).
			Str("component", "store").
			Msg("backend write failed")

		log.Info("hierdb stopped")
	}

# Integration Points

This package integrates with:

  - pkg/kv/cache: Logs "flush complete" and size-triggered flush failures
  - cmd/hierdb: Logs server start and shutdown

pkg/kv/txdb and pkg/kv/store do no logging.

# Log Output Examples

JSON Format (Production):

	{"level":"info","component":"writeback","time":"2024-10-13T10:30:00Z","message":"store opened"}
	{"level":"info","component":"txdb","tx":"t1","time":"2024-10-13T10:30:01Z","message":"transaction committed"}
	{"level":"error","component":"store","index":"BLOCKS","time":"2024-10-13T10:30:02Z","message":"flush failed"}

Console Format (Development):

	2024-10-13T10:30:00Z INF store opened component=writeback
	2024-10-13T10:30:01Z INF transaction committed component=txdb tx=t1
	2024-10-13T10:30:02Z ERR flush failed component=store index=BLOCKS

# Design Patterns

Global Logger Pattern:
  - Single package-level Logger instance
  - Initialized once at application start
  - Accessible from all packages without passing
  - Simplifies logging in deeply nested calls

Context Logger Pattern:
  - Create child loggers with context fields
  - Pass context loggers to functions
  - Automatically includes context in all logs
  - Avoids repetitive field specification

Structured Logging Pattern:
  - Use typed fields (.Str, .Int, .Err)
  - Enables log aggregation and querying
  - Better than string concatenation
  - Parseable by log analysis tools

Error Logging Pattern:
  - Always use .Err(err) for error objects
  - Provides stack trace information
  - Enables error tracking and alerting
  - Consistent error format across codebase

# Performance Characteristics

Logging Overhead:
  - Disabled level: 0ns (compile-time optimization)
  - JSON encode: ~500ns per log line
  - Console format: ~1µs per log line
  - String field: +50ns per field
  - Int field: +30ns per field

Memory Allocation:
  - Zero allocation for disabled levels
  - ~100 bytes per log line (JSON)
  - ~200 bytes per log line (console)
  - Amortized by buffer pooling

Log Level Impact:
  - Debug: High volume, use in development only
  - Info: Moderate volume, suitable for production
  - Warn/Error: Low volume, minimal impact
  - Recommendation: Info level in production

# Troubleshooting

No Log Output:
  - Check: log.Init() called before logging
  - Check: Log level set appropriately (Debug < Info < Warn < Error)
  - Solution: Initialize logger in main() before any logging

Excessive Log Volume:
  - Cause: Debug level in production
  - Solution: Use Info level in production, rotate logs

Missing Context Fields:
  - Cause: Using global Logger instead of a context logger
  - Solution: Use WithComponent/WithIndex/WithTxName

# Best Practices

Do:
  - Use Info level for production
  - Use structured fields for queryable data
  - Create component-specific loggers
  - Log errors with .Err() for stack traces
  - Include context (index, tx name)

Don't:
  - Log raw key/value bytes at Info level (they may be large or sensitive)
  - Use Debug level in production
  - Log in tight loops (use sampling)
  - Concatenate strings (use .Str, .Int)

# See Also

  - Zerolog documentation: https://github.com/rs/zerolog
  - Structured logging: https://www.thoughtworks.com/radar/techniques/structured-logging
*/
package log
