package oracle

import (
	"fmt"
	"strings"
)

// ArbitrationMode selects which arbitration requests a run considers and
// whether it keeps listening for new ones.
type ArbitrationMode uint8

const (
	// Past decides every request already on-chain, then returns.
	Past ArbitrationMode = iota + 1
	// PastUnarbitrated is Past without requests this oracle already decided.
	PastUnarbitrated
	// Future ignores history and decides requests as they arrive.
	Future
	// All decides history, then keeps listening.
	All
	// AllUnarbitrated is All without requests this oracle already decided.
	AllUnarbitrated
)

// String returns the snake_case name used in configuration.
func (m ArbitrationMode) String() string {
	switch m {
	case Past:
		return "past"
	case PastUnarbitrated:
		return "past_unarbitrated"
	case Future:
		return "future"
	case All:
		return "all"
	case AllUnarbitrated:
		return "all_unarbitrated"
	default:
		return fmt.Sprintf("mode(%d)", uint8(m))
	}
}

// ParseArbitrationMode accepts snake_case, kebab-case and camelCase names.
func ParseArbitrationMode(raw string) (ArbitrationMode, error) {
	normalised := strings.ToLower(strings.TrimSpace(raw))
	normalised = strings.NewReplacer("_", "", "-", "").Replace(normalised)
	switch normalised {
	case "past":
		return Past, nil
	case "pastunarbitrated":
		return PastUnarbitrated, nil
	case "future":
		return Future, nil
	case "all":
		return All, nil
	case "allunarbitrated":
		return AllUnarbitrated, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownMode, raw)
	}
}

// Validate rejects values outside the enumeration.
func (m ArbitrationMode) Validate() error {
	if _, _, _, ok := m.traits(); !ok {
		return fmt.Errorf("%w: %d", ErrUnknownMode, uint8(m))
	}
	return nil
}

// IncludesPast reports whether the mode replays requests already on-chain.
func (m ArbitrationMode) IncludesPast() bool {
	past, _, _, _ := m.traits()
	return past
}

// SkipsArbitrated reports whether requests with an on-chain decision by this
// oracle are left alone.
func (m ArbitrationMode) SkipsArbitrated() bool {
	_, skip, _, _ := m.traits()
	return skip
}

// Listens reports whether the mode subscribes to new requests.
func (m ArbitrationMode) Listens() bool {
	_, _, listen, _ := m.traits()
	return listen
}

func (m ArbitrationMode) traits() (past, skipArbitrated, listen, ok bool) {
	switch m {
	case Past:
		return true, false, false, true
	case PastUnarbitrated:
		return true, true, false, true
	case Future:
		return false, false, true, true
	case All:
		return true, false, true, true
	case AllUnarbitrated:
		return true, true, true, true
	default:
		return false, false, false, false
	}
}

// MarshalText implements encoding.TextMarshaler.
func (m ArbitrationMode) MarshalText() ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler so modes can be read from
// YAML, TOML and JSON configuration.
func (m *ArbitrationMode) UnmarshalText(text []byte) error {
	parsed, err := ParseArbitrationMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
