// Package store persists server, known-host and snippet lists in the data
// directory. Writes go through a temp file and rename so a crash never
// leaves a half-written list behind.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
	"github.com/shelldeck/shelldeck/internal/models"
)

const (
	serversFile      = "servers.json"
	knownHostsFile   = "known_hosts.json"
	snippetsFile     = "snippets.toml"
	snippetsJSONFile = "snippets.json"
)

// Store is a file-backed load-all/save-all persistence layer.
type Store struct {
	dir string
}

// New creates a store rooted at dir, creating it if needed.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the data directory.
func (s *Store) Dir() string { return s.dir }

func (s *Store) writeAtomic(name string, data []byte) error {
	path := filepath.Join(s.dir, name)
	tmp, err := os.CreateTemp(s.dir, name+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("writing %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("closing %s: %w", name, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replacing %s: %w", name, err)
	}
	return nil
}

// LoadServers reads the server list. A missing file is an empty list.
func (s *Store) LoadServers() ([]models.ServerConnection, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, serversFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading servers file: %w", err)
	}
	var servers []models.ServerConnection
	if err := json.Unmarshal(data, &servers); err != nil {
		return nil, fmt.Errorf("parsing servers file: %w", err)
	}
	return servers, nil
}

// SaveServers replaces the server list.
func (s *Store) SaveServers(servers []models.ServerConnection) error {
	data, err := json.MarshalIndent(servers, "", "  ")
	if err != nil {
		return fmt.Errorf("serializing servers: %w", err)
	}
	return s.writeAtomic(serversFile, data)
}

// FindServer looks a server up by id or nickname.
func (s *Store) FindServer(idOrNickname string) (*models.ServerConnection, error) {
	servers, err := s.LoadServers()
	if err != nil {
		return nil, err
	}
	for i := range servers {
		if servers[i].ID == idOrNickname || (servers[i].Nickname != "" && servers[i].Nickname == idOrNickname) {
			srv := servers[i]
			return &srv, nil
		}
	}
	return nil, fmt.Errorf("server %q not found", idOrNickname)
}

// UpsertServer inserts or replaces a server record by id.
func (s *Store) UpsertServer(server models.ServerConnection) error {
	servers, err := s.LoadServers()
	if err != nil {
		return err
	}
	replaced := false
	for i := range servers {
		if servers[i].ID == server.ID {
			servers[i] = server
			replaced = true
			break
		}
	}
	if !replaced {
		servers = append(servers, server)
	}
	return s.SaveServers(servers)
}

// DeleteServer removes a server record by id.
func (s *Store) DeleteServer(id string) error {
	servers, err := s.LoadServers()
	if err != nil {
		return err
	}
	for i := range servers {
		if servers[i].ID == id {
			servers = append(servers[:i], servers[i+1:]...)
			return s.SaveServers(servers)
		}
	}
	return fmt.Errorf("server %q not found", id)
}

// LoadKnownHosts reads the pinned host keys. A missing file is an empty
// list.
func (s *Store) LoadKnownHosts() ([]models.KnownHost, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, knownHostsFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading known hosts file: %w", err)
	}
	var hosts []models.KnownHost
	if err := json.Unmarshal(data, &hosts); err != nil {
		return nil, fmt.Errorf("parsing known hosts file: %w", err)
	}
	return hosts, nil
}

// SaveKnownHosts replaces the pinned host key list.
func (s *Store) SaveKnownHosts(hosts []models.KnownHost) error {
	data, err := json.MarshalIndent(hosts, "", "  ")
	if err != nil {
		return fmt.Errorf("serializing known hosts: %w", err)
	}
	return s.writeAtomic(knownHostsFile, data)
}

type snippetsDoc struct {
	Snippets []models.Snippet `toml:"snippets"`
}

// LoadSnippets reads snippets from snippets.toml, falling back to the
// legacy snippets.json when no TOML file exists yet.
func (s *Store) LoadSnippets() ([]models.Snippet, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, snippetsFile))
	if err == nil {
		var doc snippetsDoc
		if err := toml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parsing snippets file: %w", err)
		}
		return doc.Snippets, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("reading snippets file: %w", err)
	}

	data, err = os.ReadFile(filepath.Join(s.dir, snippetsJSONFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading legacy snippets file: %w", err)
	}
	var snippets []models.Snippet
	if err := json.Unmarshal(data, &snippets); err != nil {
		return nil, fmt.Errorf("parsing legacy snippets file: %w", err)
	}
	return snippets, nil
}

// SaveSnippets replaces the snippet list, always writing the TOML form.
func (s *Store) SaveSnippets(snippets []models.Snippet) error {
	data, err := toml.Marshal(snippetsDoc{Snippets: snippets})
	if err != nil {
		return fmt.Errorf("serializing snippets: %w", err)
	}
	return s.writeAtomic(snippetsFile, data)
}
