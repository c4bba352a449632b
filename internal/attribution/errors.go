package attribution

import "github.com/rotisserie/eris"

var (
	// ErrInvalidPath marks a conversion path that cannot be attributed: it is
	// empty, or its source, medium and campaign lists differ in length.
	ErrInvalidPath = eris.New("invalid conversion path")

	// ErrConfiguration marks attribution weights that are negative or do not
	// sum to exactly one.
	ErrConfiguration = eris.New("invalid attribution configuration")
)
