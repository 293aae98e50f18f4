package ftp

// State is the session's position in the login flow.
type State int

const (
	// StateUnauthenticated is the state of a fresh connection.
	StateUnauthenticated State = iota
	// StateAwaitingPassword follows a valid USER command.
	StateAwaitingPassword
	// StateAuthenticated follows a valid PASS command and is terminal
	// until disconnect.
	StateAuthenticated
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAwaitingPassword:
		return "awaiting-password"
	case StateAuthenticated:
		return "authenticated"
	}
	return "unknown"
}

var preLoginVerbs = map[State]map[string]bool{
	StateUnauthenticated: {
		"USER": true, "PASS": true, "QUIT": true, "NOOP": true,
		"FEAT": true, "OPTS": true, "PWD": true,
	},
	StateAwaitingPassword: {
		"PASS": true, "USER": true, "QUIT": true, "NOOP": true,
		"FEAT": true, "OPTS": true, "PWD": true,
	},
}

// CanExecute reports whether the verb is allowed in this state.
// Authenticated sessions may run everything.
func (s State) CanExecute(verb string) bool {
	if s == StateAuthenticated {
		return true
	}
	return preLoginVerbs[s][verb]
}
