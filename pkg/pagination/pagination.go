package pagination

// Bounds caps how many rows a list query may return.
type Bounds struct {
	Default int
	Max     int
}

// Page is a limit/offset window over an ordered listing.
type Page struct {
	Limit  int
	Offset int
}

// Clamp applies the bounds: an unset limit takes Default, anything above Max
// is cut to Max, and negative offsets start from the beginning.
func (b Bounds) Clamp(p Page) Page {
	if p.Limit <= 0 {
		p.Limit = b.Default
	}
	if b.Max > 0 && p.Limit > b.Max {
		p.Limit = b.Max
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

// Apply is Clamp for callers holding bare ints.
func (b Bounds) Apply(limit, offset int) (int, int) {
	p := b.Clamp(Page{Limit: limit, Offset: offset})
	return p.Limit, p.Offset
}
