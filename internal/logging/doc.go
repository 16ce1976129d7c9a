// Package logging provides structured logging for agentsync components.
//
// This package wraps Go's log/slog to emit JSON lines, one object per entry,
// so coordinator and sync-loop activity from several cooperating sessions can
// be filtered after the fact.
//
// # Usage
//
//	logger, err := logging.NewLogger("/project/.agentsync/logs", "INFO")
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
//	sessLog := logger.WithComponent("coordinator").WithSession("backend-1")
//	sessLog.Info("heartbeat recorded")
//
// Output:
//
//	{"time":"...","level":"INFO","msg":"heartbeat recorded","component":"coordinator","session_id":"backend-1"}
//
// # Rotation
//
// File output goes through a [RotatingWriter]. Once agentsync.log grows past
// MaxSizeMB it is renamed to agentsync.log.1 and older backups shift up; at
// most MaxBackups backups are kept.
//
// # Testing
//
// Use [NopLogger] to discard output, or [NewWriterLogger] with a buffer to
// assert on entries.
package logging
