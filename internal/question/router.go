package question

import "strings"

// documentCategories is checked in order so ties resolve deterministically.
var documentCategories = []struct {
	name     string
	keywords []string
}{
	{"contract", []string{"contract", "agreement", "party", "parties", "clause", "term", "obligation", "liability"}},
	{"financial", []string{"cost", "price", "value", "budget", "invoice", "payment", "total", "amount", "fee"}},
	{"technical", []string{"specification", "requirement", "architecture", "system", "interface", "design", "component"}},
	{"procurement", []string{"vendor", "supplier", "tender", "bid", "proposal", "procurement", "quotation"}},
	{"compliance", []string{"regulation", "compliance", "policy", "standard", "audit", "certification", "legal"}},
}

// RouteDocumentType guesses which document category a question targets by
// keyword overlap. Returns "general" when nothing matches.
func RouteDocumentType(text string) string {
	lower := strings.ToLower(text)

	best := "general"
	bestHits := 0
	for _, cat := range documentCategories {
		hits := 0
		for _, kw := range cat.keywords {
			if strings.Contains(lower, kw) {
				hits++
			}
		}
		if hits > bestHits {
			best = cat.name
			bestHits = hits
		}
	}
	return best
}
