package apis

const (
	// Path parameters
	Name = "name"

	// Query parameters
	Kind = "kind"
)
