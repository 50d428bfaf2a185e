package types

import "strings"

// AgentProfile describes the persona speaking for a conversation. The server
// may attach it late or replace it mid-session; until then DefaultAgent is used.
type AgentProfile struct {
	Name        string `json:"name"`
	CompanyName string `json:"company"`
	Personality string `json:"personality,omitempty"`

	// Known is false for the default fallback profile.
	Known bool `json:"-"`
}

// DefaultAgent returns the generic profile used before the server names one.
func DefaultAgent() AgentProfile {
	return AgentProfile{Name: "Assistant", CompanyName: "general"}
}

// NewAgentProfile returns a known profile, or DefaultAgent when both the name
// and the company are blank.
func NewAgentProfile(name, company, personality string) AgentProfile {
	name = strings.TrimSpace(name)
	company = strings.TrimSpace(company)
	if name == "" && company == "" {
		return DefaultAgent()
	}
	return AgentProfile{
		Name:        name,
		CompanyName: company,
		Personality: strings.TrimSpace(personality),
		Known:       true,
	}
}

// CompanyKey is the case-normalized company name used for branding lookups.
func (a AgentProfile) CompanyKey() string {
	key := strings.ToLower(strings.TrimSpace(a.CompanyName))
	if key == "" {
		return "general"
	}
	return key
}

// DisplayName renders "<name> - <company>" for known agents.
func (a AgentProfile) DisplayName() string {
	if !a.Known {
		return a.Name
	}
	switch {
	case a.Name != "" && a.CompanyName != "":
		return a.Name + " - " + a.CompanyName
	case a.Name != "":
		return a.Name
	default:
		return a.CompanyName
	}
}
