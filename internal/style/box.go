package style

import "strings"

// Box holds the four sides of a padding or margin.
type Box struct {
	Top, Right, Bottom, Left string
}

// Sides lists the longhand suffixes in CSS order.
var Sides = []string{"Top", "Right", "Bottom", "Left"}

// ParseBox expands CSS shorthand:
//
//	"a"       -> a a a a
//	"a b"     -> a b a b
//	"a b c"   -> a b c b   (top, left-right, bottom)
//	"a b c d" -> a b c d
//
// Values past the fourth are ignored.
func ParseBox(shorthand string) Box {
	parts := strings.Fields(shorthand)
	switch len(parts) {
	case 0:
		return Box{}
	case 1:
		return Box{parts[0], parts[0], parts[0], parts[0]}
	case 2:
		return Box{parts[0], parts[1], parts[0], parts[1]}
	case 3:
		return Box{parts[0], parts[1], parts[2], parts[1]}
	default:
		return Box{parts[0], parts[1], parts[2], parts[3]}
	}
}

// String compacts the box: one value when all sides match, two when the
// vertical and horizontal pairs match, otherwise all four.
func (b Box) String() string {
	if b.Top == b.Right && b.Top == b.Bottom && b.Top == b.Left {
		return b.Top
	}
	if b.Top == b.Bottom && b.Left == b.Right {
		return b.Top + " " + b.Right
	}
	return strings.Join([]string{b.Top, b.Right, b.Bottom, b.Left}, " ")
}

// Values returns the sides in Top, Right, Bottom, Left order.
func (b Box) Values() [4]string {
	return [4]string{b.Top, b.Right, b.Bottom, b.Left}
}

// Longhands returns the property names for a shorthand such as "padding".
func Longhands(property string) [4]string {
	var out [4]string
	for i, side := range Sides {
		out[i] = property + side
	}
	return out
}
