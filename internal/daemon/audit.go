package daemon

import "log/slog"

// AuditLogger writes structured audit events for security-relevant daemon
// actions. All methods are nil-safe: calling any method on a nil
// *AuditLogger is a no-op, so callers can skip nil checks at every call
// site.
type AuditLogger struct {
	logger *slog.Logger
}

// NewAuditLogger creates an AuditLogger that writes to the given handler.
// All audit events are written under the "audit" group for easy filtering.
func NewAuditLogger(handler slog.Handler) *AuditLogger {
	return &AuditLogger{
		logger: slog.New(handler).WithGroup("audit"),
	}
}

// DaemonAPIAccess logs an API request to the daemon.
func (a *AuditLogger) DaemonAPIAccess(method, path string, status int) {
	if a == nil {
		return
	}
	a.logger.Info("daemon_api_access",
		"method", method,
		"path", path,
		"status", status,
	)
}

// TLVChange logs a local TLV publication or withdrawal.
func (a *AuditLogger) TLVChange(action string, tlvType uint16) {
	if a == nil {
		return
	}
	a.logger.Info("tlv_change",
		"action", action,
		"type", tlvType,
	)
}

// NodeCollision logs a detected same-id collision.
func (a *AuditLogger) NodeCollision(nodeID string) {
	if a == nil {
		return
	}
	a.logger.Warn("node_collision",
		"node_id", nodeID,
	)
}
