// Package knownhosts maintains the durable (host, port) -> trusted key
// mapping backing trust-on-first-use decisions.
package knownhosts

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shelldeck/shelldeck/internal/models"
)

// Persistence is the load-all/save-all collaborator backing the store.
type Persistence interface {
	LoadKnownHosts() ([]models.KnownHost, error)
	SaveKnownHosts(hosts []models.KnownHost) error
}

// Service defines the interface for known-host lookups and updates.
type Service interface {
	Find(host string, port uint16) (models.KnownHost, bool)
	Trust(host string, port uint16, keyType, fingerprint, publicKeyBase64 string) error
	Remove(host string, port uint16) error
	List() []models.KnownHost
}

// Impl implements the knownhosts Service interface. Entries are held in
// memory and written through on every change.
type Impl struct {
	mu     sync.Mutex
	hosts  []models.KnownHost
	pers   Persistence
	logger zerolog.Logger
	now    func() time.Time
}

// New creates a knownhosts service, loading existing entries from pers.
func New(logger zerolog.Logger, pers Persistence) (*Impl, error) {
	hosts, err := pers.LoadKnownHosts()
	if err != nil {
		return nil, err
	}
	return &Impl{hosts: hosts, pers: pers, logger: logger, now: time.Now}, nil
}

// Find returns the pinned entry for an endpoint, if any.
func (s *Impl) Find(host string, port uint16) (models.KnownHost, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, h := range s.hosts {
		if h.Host == host && h.Port == port {
			return h, true
		}
	}
	return models.KnownHost{}, false
}

// Trust pins a key for an endpoint, replacing any prior entry. Replacement
// only ever happens through this explicit call; a silent overwrite would
// defeat the point of first-use pinning.
func (s *Impl) Trust(host string, port uint16, keyType, fingerprint, publicKeyBase64 string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.hosts[:0]
	for _, h := range s.hosts {
		if h.Host != host || h.Port != port {
			kept = append(kept, h)
		}
	}
	s.hosts = append(kept, models.KnownHost{
		Host:            host,
		Port:            port,
		KeyType:         keyType,
		Fingerprint:     fingerprint,
		PublicKeyBase64: publicKeyBase64,
		AddedAt:         s.now().Unix(),
	})

	s.logger.Info().
		Str("host", host).
		Uint16("port", port).
		Str("key_type", keyType).
		Str("fingerprint", fingerprint).
		Msg("trusted host key")

	return s.pers.SaveKnownHosts(s.hosts)
}

// Remove forgets the pinned key for an endpoint.
func (s *Impl) Remove(host string, port uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.hosts[:0]
	for _, h := range s.hosts {
		if h.Host != host || h.Port != port {
			kept = append(kept, h)
		}
	}
	if len(kept) == len(s.hosts) {
		return fmt.Errorf("no pinned key for %s", models.HostKeyID(host, port))
	}
	s.hosts = kept
	return s.pers.SaveKnownHosts(s.hosts)
}

// List returns a copy of all pinned entries.
func (s *Impl) List() []models.KnownHost {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.KnownHost, len(s.hosts))
	copy(out, s.hosts)
	return out
}
