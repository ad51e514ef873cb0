package access

import (
	"database/sql/driver"
	"fmt"
	"strings"
)

// Level is an access level on a group or survey. Higher levels include every
// capability of the lower ones: view < edit < owner.
type Level uint8

// The zero Level is invalid so that a missing value never grants anything.
const (
	LevelView Level = iota + 1
	LevelEdit
	LevelOwner
)

// levelOrder is the fixed total order, lowest first
var levelOrder = [...]Level{LevelView, LevelEdit, LevelOwner}

var levelNames = map[Level]string{
	LevelView:  "view",
	LevelEdit:  "edit",
	LevelOwner: "owner",
}

// Levels returns every valid level, lowest first
func Levels() []Level {
	out := make([]Level, len(levelOrder))
	copy(out, levelOrder[:])
	return out
}

// Rank returns the position of l in the order, or -1 for an invalid level
func (l Level) Rank() int {
	switch l {
	case LevelView:
		return 0
	case LevelEdit:
		return 1
	case LevelOwner:
		return 2
	default:
		return -1
	}
}

// Valid reports whether l is one of the defined levels
func (l Level) Valid() bool {
	return l.Rank() >= 0
}

// Includes reports whether l grants at least needed
func (l Level) Includes(needed Level) bool {
	return HasAccess(needed, l)
}

// HasAccess reports whether a subject holding granted may perform an action
// that requires needed. Invalid levels never have access.
func HasAccess(needed, granted Level) bool {
	n, g := needed.Rank(), granted.Rank()
	if n < 0 || g < 0 {
		return false
	}
	return g >= n
}

// ParseLevel parses "view", "edit" or "owner" (case-insensitive)
func ParseLevel(s string) (Level, error) {
	needle := strings.ToLower(strings.TrimSpace(s))
	for _, l := range levelOrder {
		if levelNames[l] == needle {
			return l, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidLevel, s)
}

func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("Level(%d)", uint8(l))
}

// MarshalText implements encoding.TextMarshaler
func (l Level) MarshalText() ([]byte, error) {
	if !l.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidLevel, uint8(l))
	}
	return []byte(l.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (l *Level) UnmarshalText(text []byte) error {
	parsed, err := ParseLevel(string(text))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// Scan implements sql.Scanner for the text level columns
func (l *Level) Scan(src interface{}) error {
	switch v := src.(type) {
	case string:
		return l.UnmarshalText([]byte(v))
	case []byte:
		return l.UnmarshalText(v)
	case nil:
		return fmt.Errorf("%w: NULL", ErrInvalidLevel)
	default:
		return fmt.Errorf("%w: unsupported type %T", ErrInvalidLevel, src)
	}
}

// Value implements driver.Valuer
func (l Level) Value() (driver.Value, error) {
	if !l.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidLevel, uint8(l))
	}
	return l.String(), nil
}
