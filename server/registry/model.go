package registry

import (
	"strconv"
	"strings"

	"github.com/gear6io/oxygen/pkg/errors"
)

// Model is a parsed cabinet model string, GAME:REGION:CABINET:REVISION:VERSION.
// Older cabinets omit the version.
type Model struct {
	Game     string
	Region   string
	Cabinet  string
	Revision string
	// Version is the datecode, e.g. 2020092900. Zero when absent.
	Version    int64
	HasVersion bool
}

// ParseModel parses a model string.
func ParseModel(s string) (Model, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 4 && len(parts) != 5 {
		return Model{}, errors.New(ErrInvalidModel, "model needs four or five fields", nil).AddContext("model", s)
	}
	for _, p := range parts[:4] {
		if p == "" {
			return Model{}, errors.New(ErrInvalidModel, "model has an empty field", nil).AddContext("model", s)
		}
	}

	m := Model{Game: parts[0], Region: parts[1], Cabinet: parts[2], Revision: parts[3]}
	if len(parts) == 5 {
		v, err := strconv.ParseInt(parts[4], 10, 64)
		if err != nil || v < 0 {
			return Model{}, errors.New(ErrInvalidModel, "model version is not a number", err).AddContext("model", s)
		}
		m.Version = v
		m.HasVersion = true
	}
	return m, nil
}

func (m Model) String() string {
	s := strings.Join([]string{m.Game, m.Region, m.Cabinet, m.Revision}, ":")
	if m.HasVersion {
		s += ":" + strconv.FormatInt(m.Version, 10)
	}
	return s
}
