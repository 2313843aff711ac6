package profile

import "strings"

// Tokens holds the token lists driving classification. All matching is
// case-insensitive substring matching against normalized text; the engine
// never hardcodes tokens inline, so deployments can tune each category.
type Tokens struct {
	// ActivityNoise rejects name/headline candidates that came from the
	// activity feed rather than the profile header.
	ActivityNoise []string `yaml:"activity_noise" json:"activity_noise"`
	// Skip rejects experience candidates that are posts, upsell banners
	// or navigation chrome.
	Skip []string `yaml:"skip" json:"skip"`
	// JobRole marks text describing a position.
	JobRole []string `yaml:"job_role" json:"job_role"`
	// Organization marks text naming an employer.
	Organization []string `yaml:"organization" json:"organization"`
	// Education marks education entries, which are dropped unless a
	// JobRole token is also present.
	Education []string `yaml:"education" json:"education"`
	// Duration marks tenure strings such as "3 yrs 2 mos".
	Duration []string `yaml:"duration" json:"duration"`
	// Months are month abbreviations appearing in date ranges.
	Months []string `yaml:"months" json:"months"`
	// TitleHints reject spans that read as job titles during grouped-role
	// employer resolution.
	TitleHints []string `yaml:"title_hints" json:"title_hints"`
}

// DefaultTokens returns the stock token lists.
func DefaultTokens() Tokens {
	return Tokens{
		ActivityNoise: []string{"posted", "shared", "liked", "commented"},
		Skip: []string{
			"posted", "shared a post", "liked this", "commented on this",
			"reacted to", "follow", "connect", "endorse", "recommend",
			"see all activity", "recent activity", "free insight", "unlock",
			"sales navigator", "improve outreach", "premium", "upgrade",
			"try premium", "see more", "view all", "load more",
		},
		JobRole: []string{
			"president", "manager", "director", "engineer", "developer", "analyst",
			"consultant", "specialist", "coordinator", "assistant", "executive",
			"officer", "representative", "associate", "senior", "junior", "lead",
			"head", "chief", "vice", "intern", "trainee", "member", "chair",
			"committee", "board", "team", "group", "department", "sales", "marketing",
			"product", "software", "data", "business", "operations", "finance",
			"human resources", "hr", "recruitment", "placement",
		},
		Organization: []string{
			"ltd", "limited", "inc", "corp", "corporation", "llc", "llp",
			"pvt", "private", "university", "college", "school", "institute",
			"academy", "group", "solutions", "systems", "technologies", "services",
			"enterprises", "industries", "international", "global", "company",
		},
		Education: []string{
			"school", "university", "college", "bachelor", "master", "phd", "degree",
		},
		Duration: []string{"yrs", "mos", "years", "months", "present", "current"},
		Months: []string{
			"jan", "feb", "mar", "apr", "may", "jun",
			"jul", "aug", "sep", "oct", "nov", "dec",
		},
		TitleHints: []string{"president", "manager", "director", "head", "member", "intern"},
	}
}

// Defaults fills any empty category from DefaultTokens. Configured
// categories are kept as-is, not merged.
func (t *Tokens) Defaults() {
	def := DefaultTokens()
	if len(t.ActivityNoise) == 0 {
		t.ActivityNoise = def.ActivityNoise
	}
	if len(t.Skip) == 0 {
		t.Skip = def.Skip
	}
	if len(t.JobRole) == 0 {
		t.JobRole = def.JobRole
	}
	if len(t.Organization) == 0 {
		t.Organization = def.Organization
	}
	if len(t.Education) == 0 {
		t.Education = def.Education
	}
	if len(t.Duration) == 0 {
		t.Duration = def.Duration
	}
	if len(t.Months) == 0 {
		t.Months = def.Months
	}
	if len(t.TitleHints) == 0 {
		t.TitleHints = def.TitleHints
	}
}

// containsAny reports whether text contains any of the tokens as a
// substring. Callers lowercase text first.
func containsAny(text string, tokens []string) bool {
	for _, tok := range tokens {
		if strings.Contains(text, tok) {
			return true
		}
	}
	return false
}
