//go:build !windows

package osutils

import "go.uber.org/zap"

// IsAdmin always reports false off Windows.
func IsAdmin() bool {
	return false
}

// EnsureFirewallRule is a no-op off Windows; rule management there is left
// to the operator.
func EnsureFirewallRule(port int, logger *zap.Logger) error {
	logger.Debug("automatic firewall rules are only managed on windows")
	return nil
}
