package profile

import (
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/net/html"

	"github.com/hazyhaar/vigie/extract"
)

// Selectors holds the CSS selector cascade for each extracted field, most
// specific first. Profile markup changes without notice, so every cascade is
// configurable; the defaults track the currently observed page structure.
type Selectors struct {
	Name     []string `yaml:"name" json:"name"`
	Headline []string `yaml:"headline" json:"headline"`
	// Experience tiers are tried in order; the first tier yielding any
	// node wins and later tiers are not consulted.
	Experience []string `yaml:"experience" json:"experience"`
	// Spans selects the visible text spans inside one experience node.
	Spans string `yaml:"spans" json:"spans"`
	// NestedRoles selects the sub-items of a grouped experience node.
	NestedRoles string `yaml:"nested_roles" json:"nested_roles"`
}

// DefaultSelectors returns the stock selector cascades.
func DefaultSelectors() Selectors {
	return Selectors{
		Name: []string{
			"h1.text-heading-xlarge",
			"h1",
			".pv-text-details__left-panel h1",
		},
		Headline: []string{
			"div.text-body-medium.break-words",
			".pv-text-details__left-panel .text-body-medium",
			".pv-about__summary-text",
		},
		Experience: []string{
			"section[data-section='experience'] li.artdeco-list__item",
			"div#experience div.pv-entity__summary-info",
			"div.pvs-entity__sub-components, div.pv-profile-section__card-item",
		},
		Spans:       "span[aria-hidden='true']",
		NestedRoles: "ul li",
	}
}

// Defaults fills any empty field from DefaultSelectors.
func (s *Selectors) Defaults() {
	def := DefaultSelectors()
	if len(s.Name) == 0 {
		s.Name = def.Name
	}
	if len(s.Headline) == 0 {
		s.Headline = def.Headline
	}
	if len(s.Experience) == 0 {
		s.Experience = def.Experience
	}
	if s.Spans == "" {
		s.Spans = def.Spans
	}
	if s.NestedRoles == "" {
		s.NestedRoles = def.NestedRoles
	}
}

// Plausibility thresholds, in runes.
const (
	minNameLen      = 3  // strictly longer
	minHeadlineLen  = 5  // strictly longer
	minCandidateLen = 10 // candidates shorter than this are dropped
	dateLikeMaxLen  = 20 // duration text is short; longer text is an entry
	minEmployerLen  = 3  // strictly longer
	maxCandidates   = 10
)

// Extractor turns rendered profile markup into Snapshots.
type Extractor struct {
	sel    Selectors
	tokens Tokens
	log    *slog.Logger
}

// NewExtractor builds an Extractor. Empty selector fields and token
// categories fall back to the defaults.
func NewExtractor(sel Selectors, tokens Tokens, log *slog.Logger) *Extractor {
	sel.Defaults()
	tokens.Defaults()
	if log == nil {
		log = slog.Default()
	}
	return &Extractor{sel: sel, tokens: tokens, log: log}
}

// Extract parses markup and extracts a snapshot for identity.
func (e *Extractor) Extract(identity, markup string) (*Snapshot, error) {
	root, err := extract.Parse(markup)
	if err != nil {
		return nil, fmt.Errorf("profile: parse markup: %w", err)
	}
	return e.FromDocument(identity, root), nil
}

// FromDocument extracts a snapshot from an already-parsed document.
func (e *Extractor) FromDocument(identity string, root *html.Node) *Snapshot {
	snap := &Snapshot{
		Identity:   identity,
		CapturedAt: time.Now().UnixMilli(),
	}

	snap.DisplayName = e.firstPlausible(root, e.sel.Name, minNameLen)
	if snap.DisplayName == "" {
		e.log.Warn("profile: name not found", "identity", identity)
	}

	snap.Headline = e.firstPlausible(root, e.sel.Headline, minHeadlineLen)
	if snap.Headline == "" {
		e.log.Warn("profile: headline not found", "identity", identity)
	}

	snap.Experience = e.extractExperience(root)
	if len(snap.Experience) == 0 {
		e.log.Warn("profile: no experience extracted", "identity", identity)
	} else {
		snap.CurrentPosition = snap.Experience[0].Title
		snap.CurrentCompany = snap.Experience[0].Company
	}
	return snap
}

// firstPlausible walks a selector cascade and returns the first element text
// that is long enough and free of activity noise. An element that matches
// but fails plausibility does not stop the cascade.
func (e *Extractor) firstPlausible(root *html.Node, cascade []string, minLen int) string {
	for _, sel := range cascade {
		n := extract.SelectFirst(root, sel)
		if n == nil {
			continue
		}
		text := extract.Text(n)
		if utf8.RuneCountInString(text) > minLen &&
			!containsAny(strings.ToLower(text), e.tokens.ActivityNoise) {
			return text
		}
	}
	return ""
}
