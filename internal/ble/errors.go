package ble

import (
	"errors"
	"strings"
)

var (
	// ErrNoDeviceSelected means discovery was cancelled. It is informational.
	ErrNoDeviceSelected = errors.New("ble: no device selected")
	// ErrTransientLink marks a link drop during service discovery.
	ErrTransientLink = errors.New("ble: link dropped")
	// ErrConnectFailed wraps any other connection or discovery failure.
	ErrConnectFailed = errors.New("ble: connect failed")
	// ErrConnectInProgress is returned when Connect is called while another
	// Connect has not finished.
	ErrConnectInProgress = errors.New("ble: connect already in progress")
	// ErrNotConnected means the needed characteristic handle is absent.
	ErrNotConnected = errors.New("ble: not connected")
	// ErrWriteFailed wraps a transport error on a command write.
	ErrWriteFailed = errors.New("ble: write failed")
	// ErrReadFailed wraps a transport error on a position read.
	ErrReadFailed = errors.New("ble: read failed")
)

// IsTransient reports whether err is a link drop worth retrying. Stacks that
// don't wrap ErrTransientLink are recognised by their message.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTransientLink) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "disconnected") || strings.Contains(msg, "connection lost")
}
