package watcher

import "fmt"

// Op is what happened to a path.
type Op int

const (
	Created Op = iota + 1
	Modified
	Deleted
	// MovedFrom is a rename whose destination was never observed, e.g. the
	// entry left the watched tree. Consumers treat it as a deletion.
	MovedFrom
	// MovedTo is a rename into Path. From holds the old path when the source
	// was observed inside the tree.
	MovedTo
)

func (o Op) String() string {
	switch o {
	case Created:
		return "created"
	case Modified:
		return "modified"
	case Deleted:
		return "deleted"
	case MovedFrom:
		return "moved_from"
	case MovedTo:
		return "moved_to"
	default:
		return fmt.Sprintf("op(%d)", int(o))
	}
}

// Kind tells files and directories apart.
type Kind int

const (
	File Kind = iota + 1
	Directory
)

func (k Kind) String() string {
	if k == Directory {
		return "directory"
	}
	return "file"
}

// Event is one filesystem change below the watched root.
type Event struct {
	Op   Op
	Kind Kind
	Path string
	From string
}

func (e Event) String() string {
	if e.From != "" {
		return fmt.Sprintf("%s %s %s -> %s", e.Kind, e.Op, e.From, e.Path)
	}
	return fmt.Sprintf("%s %s %s", e.Kind, e.Op, e.Path)
}
