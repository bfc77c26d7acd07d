package graph

// Operation names what an owner is trying to do to a path.
type Operation string

const (
	OpRead      Operation = "read"
	OpCreate    Operation = "create"
	OpDelete    Operation = "delete"
	OpWrite     Operation = "write"
	OpActivate  Operation = "activate"
	OpReference Operation = "reference"
	OpListen    Operation = "listen"
	OpClaim     Operation = "claim"
)

// Oracle authorizes graph operations. The graph only enforces the
// returned decision.
type Oracle interface {
	Permit(owner, path string, op Operation) bool
}

// OracleFunc adapts a function to Oracle.
type OracleFunc func(owner, path string, op Operation) bool

// Permit calls f.
func (f OracleFunc) Permit(owner, path string, op Operation) bool {
	return f(owner, path, op)
}

type permitAll struct{}

func (permitAll) Permit(string, string, Operation) bool { return true }
