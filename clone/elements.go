package clone

// SkipFlags are the operator's element exclusions.
type SkipFlags struct {
	Database bool
	Code     bool
	Files    bool
}

// ElementSet is a non-empty set of elements in canonical order.
type ElementSet []Element

// Contains reports whether e is in the set.
func (es ElementSet) Contains(e Element) bool {
	for _, x := range es {
		if x == e {
			return true
		}
	}
	return false
}

// String lists the elements, comma separated.
func (es ElementSet) String() string {
	return joinElements(es)
}

// Select derives the elements to clone from the skip flags, in the order
// database, code, files. Skipping everything is an error.
func Select(flags SkipFlags) (ElementSet, error) {
	skipped := map[Element]bool{
		Database: flags.Database,
		Code:     flags.Code,
		Files:    flags.Files,
	}
	var es ElementSet
	for _, e := range canonicalElements {
		if !skipped[e] {
			es = append(es, e)
		}
	}
	if len(es) == 0 {
		return nil, ErrEmptySelection
	}
	return es, nil
}
