package web

import (
	"errors"
	"io"
	"net/http"

	"otbr-gateway/internal/gateway"
)

type paramView struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type commandView struct {
	Name    string      `json:"name"`
	Params  []paramView `json:"params"`
	Mutates bool        `json:"mutates,omitempty"`
}

func (s *Server) handleAPIListCommands(w http.ResponseWriter, r *http.Request) {
	cmds := s.gw.Commands()
	out := make([]commandView, 0, len(cmds))
	for _, c := range cmds {
		v := commandView{Name: c.Name, Params: []paramView{}, Mutates: c.Mutates}
		for _, p := range c.Params {
			v.Params = append(v.Params, paramView{Name: p.Name, Type: p.Type.String()})
		}
		out = append(out, v)
	}
	s.writeJSON(w, http.StatusOK, out)
}

// handleAPICall runs one command. The body is the parameter blob and the
// reply is the command's document; command failures are reported in its
// Error field with status 200.
func (s *Server) handleAPICall(w http.ResponseWriter, r *http.Request) {
	method := r.PathValue("method")
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		s.writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}

	doc, err := s.gw.Call(r.Context(), method, raw)
	if errors.Is(err, gateway.ErrUnknownCommand) {
		s.writeError(w, http.StatusNotFound, "unknown method")
		return
	}
	if err != nil {
		s.logger.Error("call", "method", method, "err", err)
		s.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	b, err := doc.MarshalJSON()
	if err != nil {
		s.logger.Error("encode reply", "method", method, "err", err)
		s.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(b); err != nil {
		s.logger.Debug("write reply", "method", method, "err", err)
	}
}

func (s *Server) handleAPIStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.gw.Status(r.Context())
	if err != nil {
		s.logger.Error("status", "err", err)
		s.writeError(w, http.StatusServiceUnavailable, "stack unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, st)
}
