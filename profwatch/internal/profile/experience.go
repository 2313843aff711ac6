package profile

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"

	"github.com/hazyhaar/vigie/extract"
)

// extractExperience collects candidate nodes from the first tier that yields
// any, classifies them, and parses the survivors in document order.
func (e *Extractor) extractExperience(root *html.Node) []Experience {
	var nodes []*html.Node
	for i, sel := range e.sel.Experience {
		nodes = extract.SelectAll(root, sel)
		if len(nodes) > 0 {
			e.log.Debug("profile: experience tier matched", "tier", i+1, "candidates", len(nodes))
			break
		}
	}

	var kept []*html.Node
	for _, n := range nodes {
		if e.keepCandidate(extract.Text(n)) {
			kept = append(kept, n)
		}
	}
	if len(kept) > maxCandidates {
		kept = kept[:maxCandidates]
	}

	var out []Experience
	for _, n := range kept {
		out = append(out, e.parseNode(n)...)
	}
	return out
}

// keepCandidate decides whether a candidate node's text is a real job entry
// rather than feed activity, chrome, a bare date or an education entry.
func (e *Extractor) keepCandidate(text string) bool {
	lower := strings.ToLower(strings.TrimSpace(text))
	if containsAny(lower, e.tokens.Skip) {
		return false
	}
	if utf8.RuneCountInString(lower) < minCandidateLen {
		return false
	}
	if e.isDateLike(lower) {
		return false
	}

	hasJob := containsAny(lower, e.tokens.JobRole)
	hasOrg := containsAny(lower, e.tokens.Organization)
	educationOnly := containsAny(lower, e.tokens.Education) && !hasJob
	return (hasJob || hasOrg) && !educationOnly
}

// isDateLike reports whether lower reads as a bare date or duration
// ("Jun 2021 - Present · 2 yrs") rather than an entry.
func (e *Extractor) isDateLike(lower string) bool {
	if utf8.RuneCountInString(lower) >= dateLikeMaxLen {
		return false
	}
	return containsAny(lower, e.tokens.Duration) || containsAny(lower, e.tokens.Months)
}

// parseNode parses one kept candidate. A node with nested role sub-items is
// a grouped entry (several positions at one employer); anything else is a
// single role.
func (e *Extractor) parseNode(n *html.Node) []Experience {
	if roles := extract.SelectAll(n, e.sel.NestedRoles); len(roles) > 0 {
		return e.parseGrouped(n, roles)
	}
	return e.parseSingle(n)
}

// parseGrouped resolves the employer once from the group's spans, then emits
// one entry per nested role sharing it. Without a resolvable employer the
// whole group is dropped; titles are never paired with a guessed company.
func (e *Extractor) parseGrouped(group *html.Node, roles []*html.Node) []Experience {
	employer := e.resolveEmployer(group)
	if employer == "" {
		return nil
	}

	var out []Experience
	for _, role := range roles {
		spans := extract.SelectAll(role, e.sel.Spans)
		if len(spans) == 0 {
			continue
		}
		title := extract.Text(spans[0])
		if title == "" {
			continue
		}
		out = append(out, Experience{Title: title, Company: employer})
	}
	return out
}

// resolveEmployer scans the group's spans in document order for the employer
// name, rejecting date ranges, durations and spans that read as job titles.
// The group header span precedes the nested roles, so document order finds
// it first.
func (e *Extractor) resolveEmployer(group *html.Node) string {
	for _, span := range extract.SelectAll(group, e.sel.Spans) {
		text := extract.Text(span)
		lower := strings.ToLower(text)
		if containsAny(lower, e.tokens.Duration) || containsAny(lower, e.tokens.Months) {
			continue
		}
		if containsAny(lower, e.tokens.TitleHints) {
			continue
		}
		if utf8.RuneCountInString(text) > minEmployerLen {
			return text
		}
	}
	return ""
}

// parseSingle reads the node's first two spans as (title, company). When the
// company span is a duration the pair is dropped, not repaired by guessing.
func (e *Extractor) parseSingle(n *html.Node) []Experience {
	spans := extract.SelectAll(n, e.sel.Spans)
	if len(spans) < 2 {
		return nil
	}

	title := extract.Text(spans[0])
	company := extract.Text(spans[1])
	if containsAny(strings.ToLower(company), e.tokens.Duration) {
		return nil
	}
	if title == "" || company == "" {
		return nil
	}
	return []Experience{{Title: title, Company: company}}
}
