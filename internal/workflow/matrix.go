package workflow

import (
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Matrix maps axis names to the values each axis takes. Expansion yields the
// cartesian product of all axes.
type Matrix map[string][]string

// Clone returns a deep copy of the matrix.
func (m Matrix) Clone() Matrix {
	if len(m) == 0 {
		return nil
	}
	clone := make(Matrix, len(m))
	for axis, values := range m {
		clone[axis] = cloneStringSlice(values)
	}
	return clone
}

func (m Matrix) validate() error {
	for axis, values := range m {
		if strings.TrimSpace(axis) == "" {
			return fmt.Errorf("strategy: matrix axis name is empty")
		}
		if len(values) == 0 {
			return fmt.Errorf("strategy: matrix axis %s has no values", axis)
		}
		for _, value := range values {
			if strings.TrimSpace(value) == "" {
				return fmt.Errorf("strategy: matrix axis %s has an empty value", axis)
			}
		}
	}
	return nil
}

// Axes returns the axis names in sorted order.
func (m Matrix) Axes() []string {
	axes := make([]string, 0, len(m))
	for axis := range m {
		axes = append(axes, axis)
	}
	sort.Strings(axes)
	return axes
}

// UnmarshalYAML decodes a mapping of axis name to a list of scalar values,
// keeping each value's literal text so `3.10` and `"3.10.*"` both survive.
func (m *Matrix) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("workflow: matrix must be a mapping, got %s", nodeKind(value))
	}
	out := make(Matrix, len(value.Content)/2)
	for i := 0; i+1 < len(value.Content); i += 2 {
		axis := value.Content[i].Value
		valNode := value.Content[i+1]
		switch valNode.Kind {
		case yaml.ScalarNode:
			out[axis] = []string{valNode.Value}
		case yaml.SequenceNode:
			values := make([]string, 0, len(valNode.Content))
			for _, item := range valNode.Content {
				if item.Kind != yaml.ScalarNode {
					return fmt.Errorf("workflow: matrix axis %s values must be scalars", axis)
				}
				values = append(values, item.Value)
			}
			out[axis] = values
		default:
			return fmt.Errorf("workflow: matrix axis %s must list scalar values", axis)
		}
	}
	*m = out
	return nil
}

// Cell is one matrix combination: axis name to chosen value. A nil cell is
// the single combination of an empty matrix.
type Cell map[string]string

// Clone returns a copy of the cell.
func (c Cell) Clone() Cell {
	if len(c) == 0 {
		return nil
	}
	clone := make(Cell, len(c))
	for axis, value := range c {
		clone[axis] = value
	}
	return clone
}

// Label renders the cell's values in axis-sorted order, the way job instances
// are titled: "windows-latest, 3.10.*".
func (c Cell) Label() string {
	if len(c) == 0 {
		return ""
	}
	axes := make([]string, 0, len(c))
	for axis := range c {
		axes = append(axes, axis)
	}
	sort.Strings(axes)
	values := make([]string, 0, len(axes))
	for _, axis := range axes {
		values = append(values, c[axis])
	}
	return strings.Join(values, ", ")
}

// Expand returns every combination of the matrix axes. Axes are walked in
// sorted name order with the last axis varying fastest, and values keep their
// declared order, so expansion is deterministic. An empty matrix expands to a
// single cell with no bindings.
func (m Matrix) Expand() []Cell {
	if len(m) == 0 {
		return []Cell{nil}
	}
	axes := m.Axes()
	total := 1
	for _, axis := range axes {
		total *= len(m[axis])
	}
	cells := make([]Cell, 0, total)
	indexes := make([]int, len(axes))
	for {
		cell := make(Cell, len(axes))
		for i, axis := range axes {
			cell[axis] = m[axis][indexes[i]]
		}
		cells = append(cells, cell)
		pos := len(axes) - 1
		for pos >= 0 {
			indexes[pos]++
			if indexes[pos] < len(m[axes[pos]]) {
				break
			}
			indexes[pos] = 0
			pos--
		}
		if pos < 0 {
			break
		}
	}
	return cells
}
