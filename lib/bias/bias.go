// Package bias describes flux bias sources.
package bias

import "fmt"

// Type is what a bias source drives.
type Type int

const (
	Current Type = iota
	Voltage
)

// Name returns "Current" or "Voltage".
func (t Type) Name() string {
	switch t {
	case Current:
		return "Current"
	case Voltage:
		return "Voltage"
	}
	return fmt.Sprintf("Type(%d)", int(t))
}

// Unit returns "A" or "V".
func (t Type) Unit() string {
	switch t {
	case Current:
		return "A"
	case Voltage:
		return "V"
	}
	return ""
}

// Label is the axis label used in results, e.g. "Current [A]".
func (t Type) Label() string { return fmt.Sprintf("%s [%s]", t.Name(), t.Unit()) }

func (t Type) String() string { return t.Name() }

// Source sets a flux bias in the unit of its Type.
type Source interface {
	Set(value float64) error
	BiasType() Type
}
