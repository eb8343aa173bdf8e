package rounding

// Reorder returns a copy of list with the element at from moved to index to.
// Elements between the two positions shift by one; the input is not modified.
func Reorder[T any](list []T, from, to int) ([]T, error) {
	n := len(list)
	if from < 0 || from >= n {
		return nil, indexError("from", from, n)
	}
	if to < 0 || to >= n {
		return nil, indexError("to", to, n)
	}
	out := make([]T, 0, n)
	moved := list[from]
	for i, v := range list {
		if i == from {
			continue
		}
		if len(out) == to {
			out = append(out, moved)
		}
		out = append(out, v)
	}
	if len(out) < n {
		out = append(out, moved)
	}
	return out, nil
}

// renumber sets every section and field order to its positional index.
func renumber(sections []SectionDefinition) {
	for i := range sections {
		sections[i].Order = i
		for j := range sections[i].Fields {
			sections[i].Fields[j].Order = j
		}
	}
}
