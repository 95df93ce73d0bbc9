package session

import "strings"

// OperatorDirectory answers whether a username is a built-in operator
// identity trusted from cache without remote confirmation.
//
// This is a development/bootstrap seam: it weakens the "server is sole
// authority" invariant, so production configurations use the empty directory
// and the config layer rejects enabling the bootstrap one.
type OperatorDirectory interface {
	IsOperator(username string) bool
}

type emptyDirectory struct{}

func (emptyDirectory) IsOperator(string) bool { return false }

// NoOperators returns the production directory: no bypass for anyone
func NoOperators() OperatorDirectory {
	return emptyDirectory{}
}

// BootstrapDirectory is a fixed set of operator usernames used during
// development and first-run seeding.
type BootstrapDirectory struct {
	usernames map[string]struct{}
}

// NewBootstrapDirectory creates a directory trusting the given usernames
func NewBootstrapDirectory(usernames ...string) *BootstrapDirectory {
	set := make(map[string]struct{}, len(usernames))
	for _, u := range usernames {
		set[strings.ToLower(strings.TrimSpace(u))] = struct{}{}
	}
	return &BootstrapDirectory{usernames: set}
}

func (d *BootstrapDirectory) IsOperator(username string) bool {
	_, ok := d.usernames[strings.ToLower(strings.TrimSpace(username))]
	return ok
}
