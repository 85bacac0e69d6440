package models

import (
	"fmt"
	"strings"
)

// KeyMode selects how a record maps to its store key.
type KeyMode string

const (
	// KeyByService keys records by service name alone; hosts reporting the
	// same service overwrite each other.
	KeyByService KeyMode = "service"
	// KeyByServiceHost keys records by service name and host name.
	KeyByServiceHost KeyMode = "service_host"
)

// ParseKeyMode returns the key mode named by raw, defaulting to KeyByService.
func ParseKeyMode(raw string) (KeyMode, error) {
	switch KeyMode(strings.ToLower(strings.TrimSpace(raw))) {
	case "", KeyByService:
		return KeyByService, nil
	case KeyByServiceHost:
		return KeyByServiceHost, nil
	}
	return "", fmt.Errorf("unknown key mode %q", raw)
}

// KeySeparator joins service and host in KeyByServiceHost keys.
const KeySeparator = "@"

// Key returns the store key for a service observed on host.
func (m KeyMode) Key(service, host string) string {
	if m == KeyByServiceHost && host != "" {
		return service + KeySeparator + host
	}
	return service
}

// RecordKey returns the store key of rec.
func (m KeyMode) RecordKey(rec StatusRecord) string {
	return m.Key(rec.ServiceName, rec.HostName)
}
