package database

import "errors"

// Database configuration errors
var (
	ErrInvalidDriver            = errors.New("invalid database driver")
	ErrInvalidDSN               = errors.New("invalid database dsn")
	ErrInvalidMaxConnections    = errors.New("invalid max connections")
	ErrInvalidConnectionTimeout = errors.New("invalid connection timeout")
	ErrInvalidSynchronousMode   = errors.New("invalid synchronous mode")
)

// Database operation errors
var (
	ErrDatabaseNotConnected = errors.New("database not connected")
	ErrMigrationFailed      = errors.New("migration failed")
	ErrChecksumMismatch     = errors.New("migration checksum mismatch")
)

// Repository errors
var (
	ErrTokenNotFound      = errors.New("link token not found")
	ErrLinkNotFound       = errors.New("link not found")
	ErrDeviceNameNotFound = errors.New("device name not found")
	ErrInvalidDeviceName  = errors.New("invalid device name")
)
