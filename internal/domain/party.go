package domain

import "fmt"

type Party int

const (
	PartyA Party = iota
	PartyB
)

// Parties lists both parties in speaking order.
var Parties = [2]Party{PartyA, PartyB}

func (p Party) Valid() bool {
	return p == PartyA || p == PartyB
}

// Label is the display name shown to the parties.
func (p Party) Label() string {
	switch p {
	case PartyA:
		return "第一位"
	case PartyB:
		return "第二位"
	default:
		return fmt.Sprintf("party(%d)", int(p))
	}
}

func (p Party) String() string {
	switch p {
	case PartyA:
		return "a"
	case PartyB:
		return "b"
	default:
		return fmt.Sprintf("party(%d)", int(p))
	}
}

// ParseParty accepts "a"/"b", "1"/"2" or the display labels.
func ParseParty(s string) (Party, error) {
	switch s {
	case "a", "A", "1", "第一位":
		return PartyA, nil
	case "b", "B", "2", "第二位":
		return PartyB, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidParty, s)
	}
}
