// Package profile extracts structured snapshots from rendered profile markup.
//
// Extraction is cascade-driven: each field tries an ordered list of CSS
// selectors, most specific first, and accepts the first hit that passes a
// plausibility filter. Partial results from different cascade strategies are
// never merged for one field. Profile pages mix job history with activity
// feeds and upsell banners, so experience candidates additionally pass a
// token-based classification filter before parsing.
//
// Markup shape never fails extraction. Fields that cannot be located stay
// empty and are logged; only a broken document read is an error.
package profile

// Experience is one position in a profile's job history, most recent first.
type Experience struct {
	Title   string `json:"title"`
	Company string `json:"company"`
}

// Snapshot is one observation of a profile at a point in time.
//
// CurrentPosition and CurrentCompany mirror Experience[0]. They stay empty
// when no experience was extracted; they are never guessed from the headline
// or any other field.
type Snapshot struct {
	Identity        string       `json:"identity"`
	DisplayName     string       `json:"display_name"`
	Headline        string       `json:"headline"`
	CurrentPosition string       `json:"current_position"`
	CurrentCompany  string       `json:"current_company"`
	Experience      []Experience `json:"experience"`
	CapturedAt      int64        `json:"captured_at"` // ms since epoch
}
