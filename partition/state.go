package partition

import "fmt"

// State is a partition's membership state on the local node.
type State int8

const (
	Undef State = iota
	Absent
	Desync
	Sync
	Zombie
)

func (s State) String() string {
	switch s {
	case Undef:
		return "Undef"
	case Absent:
		return "Absent"
	case Desync:
		return "Desync"
	case Sync:
		return "Sync"
	case Zombie:
		return "Zombie"
	default:
		return fmt.Sprintf("State(%d)", int8(s))
	}
}

// transitions enumerates the state graph permitted by rebalance:
// Undef -> Absent -> Desync -> Sync <-> Zombie, plus Sync -> Desync and a
// drop back to Absent from Desync, Sync or Zombie.
var transitions = map[State]map[State]bool{
	Undef:  {Absent: true},
	Absent: {Desync: true},
	Desync: {Sync: true, Absent: true},
	Sync:   {Zombie: true, Absent: true, Desync: true},
	Zombie: {Sync: true, Absent: true},
}

// CanTransition reports whether moving from 'from' to 'to' is a permitted
// rebalance transition.
func CanTransition(from, to State) bool {
	if from == to {
		return true
	}
	return transitions[from][to]
}
