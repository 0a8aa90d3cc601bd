package main

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/liamcoop/assetrules/audit"
	"github.com/liamcoop/assetrules/cablesizing"
	"github.com/liamcoop/assetrules/executor"
	"github.com/liamcoop/assetrules/graph"
	"github.com/liamcoop/assetrules/rules"
)

// Health check handler
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	mode := "memory"
	if s.db != nil {
		mode = "postgres"
		if err := s.db.PingContext(r.Context()); err != nil {
			respondJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unhealthy",
				"error":  err.Error(),
			})
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"mode":   mode,
	})
}

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var req CreateProjectRequest
	if err := s.decode(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid project", err)
		return
	}
	p := &graph.Project{ID: req.ID, Name: req.Name, ClientID: req.ClientID, CountryCode: req.CountryCode}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if err := s.graph.CreateProject(r.Context(), p); err != nil {
		respondError(w, statusOf(err), "failed to create project", err)
		return
	}
	respondJSON(w, http.StatusCreated, projectResponse(p))
}

func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	p, err := s.graph.GetProject(r.Context(), chi.URLParam(r, "projectId"))
	if err != nil {
		respondError(w, statusOf(err), "project not found", err)
		return
	}
	respondJSON(w, http.StatusOK, projectResponse(p))
}

func (s *Server) handleCreateEntity(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectId")
	if _, err := s.graph.GetProject(r.Context(), projectID); err != nil {
		respondError(w, statusOf(err), "project not found", err)
		return
	}

	var req CreateEntityRequest
	if err := s.decode(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid entity", err)
		return
	}
	e := &graph.Entity{
		Tag:        req.Tag,
		Type:       req.Type,
		ProjectID:  projectID,
		Area:       req.Area,
		System:     req.System,
		Discipline: req.Discipline,
		Properties: req.Properties,
	}
	if err := s.graph.CreateEntity(r.Context(), e); err != nil {
		respondError(w, statusOf(err), "failed to create entity", err)
		return
	}
	respondJSON(w, http.StatusCreated, entityResponse(e))
}

func (s *Server) handleListEntities(w http.ResponseWriter, r *http.Request) {
	entities, err := s.graph.ListByProject(r.Context(), chi.URLParam(r, "projectId"))
	if err != nil {
		respondError(w, statusOf(err), "failed to list entities", err)
		return
	}
	out := make([]EntityResponse, 0, len(entities))
	for _, e := range entities {
		out = append(out, entityResponse(e))
	}
	respondJSON(w, http.StatusOK, map[string]any{"entities": out})
}

func (s *Server) handleResolution(w http.ResponseWriter, r *http.Request) {
	res, err := s.engine.LoadAndResolve(r.Context(), chi.URLParam(r, "projectId"))
	if err != nil {
		respondError(w, statusOf(err), "failed to resolve rules", err)
		return
	}
	respondJSON(w, http.StatusOK, resolutionResponse(res))
}

// handleExecute runs the resolved rules against the listed entities, or
// against every entity of the project when none are listed.
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectId")
	var req ExecuteRequest
	if r.ContentLength != 0 {
		if err := s.decode(r, &req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid execute request", err)
			return
		}
	}

	var entities []*graph.Entity
	if len(req.EntityIDs) == 0 {
		all, err := s.graph.ListByProject(r.Context(), projectID)
		if err != nil {
			respondError(w, statusOf(err), "failed to list entities", err)
			return
		}
		entities = all
	}
	for _, id := range req.EntityIDs {
		e, err := s.graph.GetEntity(r.Context(), id)
		if err != nil {
			respondError(w, statusOf(err), "entity not found", err)
			return
		}
		entities = append(entities, e)
	}

	records, err := s.engine.ExecuteAll(r.Context(), projectID, entities)
	if err != nil {
		respondError(w, statusOf(err), "execution failed", err)
		return
	}
	respondJSON(w, http.StatusOK, ExecutionsResponse{Records: nonNilRecords(records)})
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	summary, err := s.engine.Run(r.Context(), chi.URLParam(r, "projectId"))
	if err != nil {
		respondError(w, statusOf(err), "run failed", err)
		return
	}
	respondJSON(w, http.StatusOK, summary)
}

func (s *Server) handleValidateEntity(w http.ResponseWriter, r *http.Request) {
	records, err := s.engine.ValidateEntity(r.Context(), chi.URLParam(r, "entityId"), chi.URLParam(r, "projectId"))
	if err != nil {
		respondError(w, statusOf(err), "validation failed", err)
		return
	}
	respondJSON(w, http.StatusOK, ExecutionsResponse{Records: nonNilRecords(records)})
}

func (s *Server) handleValidation(w http.ResponseWriter, r *http.Request) {
	report, err := s.engine.Validation(r.Context(), chi.URLParam(r, "projectId"))
	if err != nil {
		respondError(w, statusOf(err), "failed to aggregate validation", err)
		return
	}
	respondJSON(w, http.StatusOK, report)
}

func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	records, err := s.engine.Records().ListByProject(r.Context(), chi.URLParam(r, "projectId"))
	if err != nil {
		respondError(w, statusOf(err), "failed to list executions", err)
		return
	}
	respondJSON(w, http.StatusOK, ExecutionsResponse{Records: nonNilRecords(records)})
}

func (s *Server) handleRollbackRecord(w http.ResponseWriter, r *http.Request) {
	rec, err := s.engine.FindRecord(r.Context(), chi.URLParam(r, "projectId"), chi.URLParam(r, "recordId"))
	if err != nil {
		respondError(w, statusOf(err), "execution record not found", err)
		return
	}
	if err := s.engine.Rollback(r.Context(), rec); err != nil {
		status := statusOf(err)
		if errors.Is(err, executor.ErrNotReversible) {
			status = http.StatusConflict
		}
		respondError(w, status, "rollback failed", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "rolled_back", "record_id": rec.ID})
}

func (s *Server) handleRollbackRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runId")
	n, err := s.engine.RollbackRun(r.Context(), runID)
	if err != nil {
		respondError(w, statusOf(err), "rollback failed", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"run_id": runID, "rolled_back": n})
}

func (s *Server) handleCableSizing(w http.ResponseWriter, r *http.Request) {
	var req CableSizingRequest
	if err := s.decode(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid sizing request", err)
		return
	}
	maxVd := req.MaxVoltageDropPercent
	if maxVd == 0 {
		maxVd = s.cfg.MaxVoltageDropPercent
	}
	result, err := cablesizing.SizeCable(req.HP, req.LengthMeters, req.Voltage, maxVd)
	if errors.Is(err, cablesizing.ErrOverLimit) {
		respondError(w, http.StatusUnprocessableEntity, "no standard cable can carry this load", err)
		return
	}
	if err != nil {
		respondError(w, http.StatusBadRequest, "sizing failed", err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// List rules handler
func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	list, err := s.engine.Loader().Store().ListActive(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list rules", err)
		return
	}
	if list == nil {
		list = []*rules.Rule{}
	}
	respondJSON(w, http.StatusOK, RulesListResponse{Rules: list})
}

// Create rule handler
func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	rule, err := s.decodeRule(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid rule", err)
		return
	}
	if err := s.engine.Loader().AddRule(r.Context(), rule); err != nil {
		respondError(w, statusOf(err), "failed to add rule", err)
		return
	}
	respondJSON(w, http.StatusCreated, rule)
}

// Get rule handler
func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	rule, err := s.engine.Loader().Store().Get(r.Context(), chi.URLParam(r, "ruleId"))
	if err != nil {
		respondError(w, statusOf(err), "rule not found", err)
		return
	}
	respondJSON(w, http.StatusOK, rule)
}

// Update rule handler
func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	rule, err := s.decodeRule(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid rule", err)
		return
	}
	rule.ID = chi.URLParam(r, "ruleId")
	if err := s.engine.Loader().UpdateRule(r.Context(), rule); err != nil {
		respondError(w, statusOf(err), "failed to update rule", err)
		return
	}
	respondJSON(w, http.StatusOK, rule)
}

// Delete rule handler
func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Loader().DeleteRule(r.Context(), chi.URLParam(r, "ruleId")); err != nil {
		respondError(w, statusOf(err), "rule not found", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleExecuteRule applies one rule to one entity, bypassing resolution.
func (s *Server) handleExecuteRule(w http.ResponseWriter, r *http.Request) {
	var req ExecuteRuleRequest
	if err := s.decode(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid execute request", err)
		return
	}
	rule, err := s.engine.Loader().Store().Get(r.Context(), chi.URLParam(r, "ruleId"))
	if err != nil {
		respondError(w, statusOf(err), "rule not found", err)
		return
	}
	entity, err := s.graph.GetEntity(r.Context(), req.EntityID)
	if err != nil {
		respondError(w, statusOf(err), "entity not found", err)
		return
	}
	rec, err := s.engine.ExecuteOne(r.Context(), rule, entity)
	if err != nil {
		respondError(w, statusOf(err), "execution failed", err)
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

// decodeRule decodes a rule definition body. The rule id may come from the
// body or the path.
func (s *Server) decodeRule(r *http.Request) (*rules.Rule, error) {
	var d rules.Definition
	if err := s.decode(r, &d); err != nil {
		return nil, err
	}
	if d.ID == "" {
		if id := chi.URLParam(r, "ruleId"); id != "" {
			d.ID = id
		} else {
			d.ID = uuid.NewString()
		}
	}
	return d.Rule()
}

func nonNilRecords(records []*audit.Record) []*audit.Record {
	if records == nil {
		return []*audit.Record{}
	}
	return records
}
