package models

// Snippet is a saved command a user can paste into a shell.
type Snippet struct {
	ID          string `json:"id" toml:"id"`
	Name        string `json:"name" toml:"name"`
	Command     string `json:"command" toml:"command"`
	Description string `json:"description,omitempty" toml:"description,omitempty"`
}
