package domain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrInvalidVersionLabel = errors.New("invalid_version_label")

// VersionLabel is the human-readable v<major>.<minor> identifier shown to
// users, distinct from the integer version keyed in app_versions.
type VersionLabel struct {
	Major int
	Minor int
}

// FirstVersion is the label assigned by the initial deploy.
var FirstVersion = VersionLabel{Major: 1, Minor: 0}

// ParseVersionLabel parses "v1.3" into a VersionLabel.
func ParseVersionLabel(value string) (VersionLabel, error) {
	value = strings.TrimSpace(value)
	if !strings.HasPrefix(value, "v") {
		return VersionLabel{}, ErrInvalidVersionLabel
	}
	parts := strings.SplitN(strings.TrimPrefix(value, "v"), ".", 2)
	if len(parts) != 2 {
		return VersionLabel{}, ErrInvalidVersionLabel
	}
	major, err := strconv.Atoi(parts[0])
	if err != nil || major < 0 {
		return VersionLabel{}, ErrInvalidVersionLabel
	}
	minor, err := strconv.Atoi(parts[1])
	if err != nil || minor < 0 {
		return VersionLabel{}, ErrInvalidVersionLabel
	}
	return VersionLabel{Major: major, Minor: minor}, nil
}

// String renders the label as v<major>.<minor>.
func (v VersionLabel) String() string {
	return fmt.Sprintf("v%d.%d", v.Major, v.Minor)
}

// LabelForVersion maps an integer version back to its label. The first
// version is v1.0 and every update bumps only the minor component, so the
// mapping is fixed.
func LabelForVersion(version int) VersionLabel {
	if version < 1 {
		version = 1
	}
	return VersionLabel{Major: 1, Minor: version - 1}
}

// NextMinor returns the label with the minor component incremented. Updates
// never bump the major component.
func (v VersionLabel) NextMinor() VersionLabel {
	return VersionLabel{Major: v.Major, Minor: v.Minor + 1}
}
