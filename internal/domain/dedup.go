package domain

// renderKey is the tuple of fields that make two notifications render
// identically. Using a comparable struct as the map key avoids the
// separator-collision bugs of concatenated string keys.
type renderKey struct {
	Type          NotificationType
	Message       string
	Name          string
	Location      string
	ProductName   string
	Rating        int
	VisitorCount  int
	StockCount    int
	MilestoneText string
}

func keyOf(n Notification) renderKey {
	return renderKey{
		Type:          n.Type,
		Message:       n.Message,
		Name:          n.Name,
		Location:      n.Location,
		ProductName:   n.ProductName,
		Rating:        n.Rating,
		VisitorCount:  n.VisitorCount,
		StockCount:    n.StockCount,
		MilestoneText: n.MilestoneText,
	}
}

// Dedupe drops notifications that would render identically to an earlier
// one, keeping the first occurrence and preserving input order. The second
// return value is the number of duplicates removed.
func Dedupe(in []Notification) ([]Notification, int) {
	if len(in) < 2 {
		return in, 0
	}
	seen := make(map[renderKey]struct{}, len(in))
	out := make([]Notification, 0, len(in))
	for _, n := range in {
		k := keyOf(n)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, n)
	}
	return out, len(in) - len(out)
}
