package replicator

import "fmt"

// Direction selects which way documents flow.
type Direction int

const (
	// PushAndPull replicates in both directions.
	PushAndPull Direction = iota
	// Push replicates local changes to the peer only.
	Push
	// Pull replicates peer changes locally only.
	Pull
)

// String returns the string representation of the direction.
func (d Direction) String() string {
	switch d {
	case Push:
		return "push"
	case Pull:
		return "pull"
	default:
		return "pushAndPull"
	}
}

// ParseDirection parses the string form produced by String.
func ParseDirection(s string) (Direction, error) {
	switch s {
	case "push":
		return Push, nil
	case "pull":
		return Pull, nil
	case "pushAndPull", "":
		return PushAndPull, nil
	default:
		return PushAndPull, fmt.Errorf("unknown direction %q", s)
	}
}

// PushEnabled reports whether the push direction is active.
func (d Direction) PushEnabled() bool {
	return d != Pull
}

// PullEnabled reports whether the pull direction is active.
func (d Direction) PullEnabled() bool {
	return d != Push
}
