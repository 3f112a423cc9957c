package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"otbr-gateway/internal/automation"
)

type automationView struct {
	*automation.Script
	Running bool `json:"running"`
}

func (s *Server) runningSet() map[string]bool {
	out := make(map[string]bool)
	if s.autoEngine == nil {
		return out
	}
	for _, id := range s.autoEngine.Running() {
		out[id] = true
	}
	return out
}

func (s *Server) handleAPIListAutomations(w http.ResponseWriter, r *http.Request) {
	if s.scriptMgr == nil {
		s.writeJSON(w, http.StatusOK, []automationView{})
		return
	}
	scripts, err := s.scriptMgr.List()
	if err != nil {
		s.logger.Error("list scripts", "err", err)
		s.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	running := s.runningSet()
	out := make([]automationView, 0, len(scripts))
	for _, sc := range scripts {
		out = append(out, automationView{Script: sc, Running: running[sc.ID]})
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAPIGetAutomation(w http.ResponseWriter, r *http.Request) {
	if s.scriptMgr == nil {
		s.writeError(w, http.StatusNotFound, "not found")
		return
	}
	id := r.PathValue("id")
	script, err := s.scriptMgr.Get(id)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "script not found")
		return
	}
	s.writeJSON(w, http.StatusOK, automationView{Script: script, Running: s.runningSet()[id]})
}

type saveAutomationRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	LuaCode     string `json:"lua_code"`
	Enabled     bool   `json:"enabled"`
}

func (s *Server) decodeAutomation(w http.ResponseWriter, r *http.Request) (saveAutomationRequest, bool) {
	var req saveAutomationRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return req, false
	}
	if req.Name == "" {
		s.writeError(w, http.StatusBadRequest, "name is required")
		return req, false
	}
	return req, true
}

// saveScript persists sc and maps a parse failure to 400.
func (s *Server) saveScript(w http.ResponseWriter, sc *automation.Script) (*automation.Script, bool) {
	saved, err := s.scriptMgr.Save(sc)
	if errors.Is(err, automation.ErrInvalidScript) {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	if err != nil {
		s.logger.Error("save script", "err", err)
		s.writeError(w, http.StatusInternalServerError, "internal server error")
		return nil, false
	}
	return saved, true
}

func (s *Server) handleAPICreateAutomation(w http.ResponseWriter, r *http.Request) {
	if s.scriptMgr == nil {
		s.writeError(w, http.StatusInternalServerError, "automations not available")
		return
	}
	req, ok := s.decodeAutomation(w, r)
	if !ok {
		return
	}

	saved, ok := s.saveScript(w, &automation.Script{
		Meta: automation.ScriptMeta{
			Name:        req.Name,
			Description: req.Description,
			Enabled:     req.Enabled,
		},
		LuaCode: req.LuaCode,
	})
	if !ok {
		return
	}

	if s.autoEngine != nil && saved.Meta.Enabled {
		if err := s.autoEngine.ReloadScript(saved.ID); err != nil {
			s.logger.Error("reload script after create", "id", saved.ID, "err", err)
		}
	}
	s.writeJSON(w, http.StatusCreated, saved)
}

func (s *Server) handleAPIUpdateAutomation(w http.ResponseWriter, r *http.Request) {
	if s.scriptMgr == nil {
		s.writeError(w, http.StatusInternalServerError, "automations not available")
		return
	}

	id := r.PathValue("id")
	existing, err := s.scriptMgr.Get(id)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "script not found")
		return
	}
	req, ok := s.decodeAutomation(w, r)
	if !ok {
		return
	}

	existing.Meta.Name = req.Name
	existing.Meta.Description = req.Description
	existing.Meta.Enabled = req.Enabled
	existing.LuaCode = req.LuaCode

	saved, ok := s.saveScript(w, existing)
	if !ok {
		return
	}

	if s.autoEngine != nil {
		if err := s.autoEngine.ReloadScript(saved.ID); err != nil {
			s.logger.Error("reload script after update", "id", saved.ID, "err", err)
		}
	}
	s.writeJSON(w, http.StatusOK, saved)
}

func (s *Server) handleAPIDeleteAutomation(w http.ResponseWriter, r *http.Request) {
	if s.scriptMgr == nil {
		s.writeError(w, http.StatusInternalServerError, "automations not available")
		return
	}

	id := r.PathValue("id")
	if s.autoEngine != nil {
		s.autoEngine.StopScript(id)
	}
	err := s.scriptMgr.Delete(id)
	if errors.Is(err, automation.ErrScriptNotFound) {
		s.writeError(w, http.StatusNotFound, "script not found")
		return
	}
	if err != nil {
		s.logger.Error("delete script", "err", err)
		s.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleAPIRunAutomation runs a saved script once, or the lua_code of the
// body when id is "_inline".
func (s *Server) handleAPIRunAutomation(w http.ResponseWriter, r *http.Request) {
	if s.autoEngine == nil {
		s.writeError(w, http.StatusInternalServerError, "automation engine not available")
		return
	}

	id := r.PathValue("id")
	if id == "_inline" {
		var req struct {
			LuaCode string `json:"lua_code"`
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		s.writeJSON(w, http.StatusOK, s.autoEngine.RunLuaCode(req.LuaCode))
		return
	}
	s.writeJSON(w, http.StatusOK, s.autoEngine.RunScript(id))
}

func (s *Server) handleAPIToggleAutomation(w http.ResponseWriter, r *http.Request) {
	if s.scriptMgr == nil {
		s.writeError(w, http.StatusInternalServerError, "automations not available")
		return
	}

	id := r.PathValue("id")
	script, err := s.scriptMgr.Get(id)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "script not found")
		return
	}

	script.Meta.Enabled = !script.Meta.Enabled
	saved, ok := s.saveScript(w, script)
	if !ok {
		return
	}

	if s.autoEngine != nil {
		if saved.Meta.Enabled {
			if err := s.autoEngine.ReloadScript(saved.ID); err != nil {
				s.logger.Error("reload script after toggle", "id", saved.ID, "err", err)
			}
		} else {
			s.autoEngine.StopScript(saved.ID)
		}
	}
	s.writeJSON(w, http.StatusOK, saved)
}
