package sim

import (
	"strconv"
	"strings"
)

// Named describes an object that has a name.
type Named interface {
	Name() string
}

// NameMustBeValid panics if the name does not follow the naming convention.
// A name is a series of dot-separated elements. Each element starts with a
// capital letter and may carry a square-bracket index, e.g. "Chain.Relay[2]".
func NameMustBeValid(name string) {
	for _, elem := range strings.Split(name, ".") {
		elementMustBeValid(name, elem)
	}
}

func elementMustBeValid(name, elem string) {
	if elem == "" {
		panic("name " + name + " is not valid: empty element")
	}

	if elem[0] < 'A' || elem[0] > 'Z' {
		panic("name " + name + " is not valid: " +
			"element must start with a capital letter")
	}

	if strings.ContainsAny(elem, "_\"'- ") {
		panic("name " + name + " is not valid: invalid character")
	}

	if strings.Count(elem, "[") != strings.Count(elem, "]") {
		panic("name " + name + " is not valid: bracket must match")
	}
}

// BuildName builds a name from a parent name and an element name.
func BuildName(parentName, elementName string) string {
	if parentName == "" {
		return elementName
	}

	return parentName + "." + elementName
}

// BuildNameWithIndex builds a name from a parent name, an element name and an
// index.
func BuildNameWithIndex(parentName, elementName string, index int) string {
	return BuildName(parentName, elementName+"["+strconv.Itoa(index)+"]")
}
