package models

import "fmt"

// KnownHost pins a host key seen and trusted for an endpoint. Keyed by
// (host, port); at most one entry per endpoint.
type KnownHost struct {
	Host            string `json:"host"`
	Port            uint16 `json:"port"`
	KeyType         string `json:"key_type"`
	Fingerprint     string `json:"fingerprint"`
	PublicKeyBase64 string `json:"public_key_base64"`
	AddedAt         int64  `json:"added_at"`
}

// HostKeyID returns the host:port identity used to key trust decisions.
func HostKeyID(host string, port uint16) string {
	return fmt.Sprintf("%s:%d", host, port)
}
