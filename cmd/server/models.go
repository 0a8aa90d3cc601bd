package main

import (
	"github.com/liamcoop/assetrules/audit"
	"github.com/liamcoop/assetrules/graph"
	"github.com/liamcoop/assetrules/rules"
)

// API request and response models

// CreateProjectRequest is the body of POST /projects.
type CreateProjectRequest struct {
	ID          string `json:"id" validate:"omitempty,max=64"`
	Name        string `json:"name" validate:"required"`
	ClientID    string `json:"client_id"`
	CountryCode string `json:"country_code" validate:"omitempty,alpha,len=2"`
}

// ProjectResponse represents a project in API responses
type ProjectResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ClientID    string `json:"client_id,omitempty"`
	CountryCode string `json:"country_code,omitempty"`
}

func projectResponse(p *graph.Project) ProjectResponse {
	return ProjectResponse{ID: p.ID, Name: p.Name, ClientID: p.ClientID, CountryCode: p.CountryCode}
}

// CreateEntityRequest is the body of POST /projects/{projectId}/entities.
type CreateEntityRequest struct {
	Tag        string         `json:"tag" validate:"required,max=128"`
	Type       string         `json:"type" validate:"required"`
	Area       string         `json:"area"`
	System     string         `json:"system"`
	Discipline string         `json:"discipline"`
	Properties map[string]any `json:"properties"`
}

// EntityResponse represents an entity in API responses
type EntityResponse struct {
	ID         string         `json:"id"`
	Tag        string         `json:"tag"`
	Type       string         `json:"type"`
	ProjectID  string         `json:"project_id"`
	Area       string         `json:"area,omitempty"`
	System     string         `json:"system,omitempty"`
	Discipline string         `json:"discipline,omitempty"`
	Properties map[string]any `json:"properties"`
}

func entityResponse(e *graph.Entity) EntityResponse {
	props := e.Properties
	if props == nil {
		props = map[string]any{}
	}
	return EntityResponse{
		ID:         e.ID,
		Tag:        e.Tag,
		Type:       e.Type,
		ProjectID:  e.ProjectID,
		Area:       e.Area,
		System:     e.System,
		Discipline: e.Discipline,
		Properties: props,
	}
}

// ExecuteRequest selects the entities of an execute call. Empty means all.
type ExecuteRequest struct {
	EntityIDs []string `json:"entity_ids"`
}

// ExecuteRuleRequest is the body of POST /rules/{ruleId}/execute.
type ExecuteRuleRequest struct {
	EntityID string `json:"entity_id" validate:"required"`
}

// ExecutionsResponse lists execution records
type ExecutionsResponse struct {
	Records []*audit.Record `json:"records"`
}

// GroupResponse describes one conflict group of a resolution.
type GroupResponse struct {
	Key        string   `json:"key"`
	Winner     string   `json:"winner"`
	Suppressed []string `json:"suppressed"`
}

// ResolutionResponse is the resolved rule set of a project.
type ResolutionResponse struct {
	ActiveRules []*rules.Rule                `json:"active_rules"`
	Groups      []GroupResponse              `json:"groups"`
	Violations  []rules.EnforcementViolation `json:"violations"`
}

func resolutionResponse(res *rules.Resolution) ResolutionResponse {
	out := ResolutionResponse{
		ActiveRules: res.ActiveRules,
		Groups:      make([]GroupResponse, 0, len(res.Groups)),
		Violations:  res.Violations,
	}
	if out.ActiveRules == nil {
		out.ActiveRules = []*rules.Rule{}
	}
	if out.Violations == nil {
		out.Violations = []rules.EnforcementViolation{}
	}
	for _, g := range res.Groups {
		gr := GroupResponse{Key: g.Key, Winner: g.Winner.ID, Suppressed: []string{}}
		for _, r := range g.Suppressed {
			gr.Suppressed = append(gr.Suppressed, r.ID)
		}
		out.Groups = append(out.Groups, gr)
	}
	return out
}

// CableSizingRequest is the body of POST /cable-sizing.
type CableSizingRequest struct {
	HP                    float64 `json:"hp" validate:"gt=0"`
	LengthMeters          float64 `json:"length_meters" validate:"gt=0"`
	Voltage               string  `json:"voltage" validate:"required"`
	MaxVoltageDropPercent float64 `json:"max_voltage_drop_percent" validate:"omitempty,gt=0,lte=100"`
}

// RulesListResponse represents the response for listing rules
type RulesListResponse struct {
	Rules []*rules.Rule `json:"rules"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
