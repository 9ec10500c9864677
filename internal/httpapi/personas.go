package httpapi

import (
	"net/http"

	"github.com/taskmesh/orchestrator/internal/personas"
)

// personaView is the route table's {id, role, score, uses} shape: a
// trimmed projection of personas.Persona rather than the full DNA, since
// a caller listing personas wants to compare track records, not re-derive
// match scoring inputs.
type personaView struct {
	ID    string  `json:"id"`
	Role  string  `json:"role"`
	Score float64 `json:"score"`
	Uses  int     `json:"uses"`
}

func toPersonaView(p *personas.Persona) personaView {
	return personaView{ID: p.ID, Role: p.Role, Score: p.SuccessScore, Uses: p.UsageCount}
}

// handlePersonasList returns every persona with its track record,
// optionally narrowed by domain/role query parameters.
func (s *Server) handlePersonasList(w http.ResponseWriter, r *http.Request) {
	filter := personas.Filter{
		Domain: r.URL.Query().Get("domain"),
		Role:   r.URL.Query().Get("role"),
	}

	list := s.Personas.List(filter)
	out := make([]personaView, 0, len(list))
	for _, p := range list {
		out = append(out, toPersonaView(p))
	}
	writeJSON(w, http.StatusOK, out)
}

// handlePersonaGet returns a single persona, supplementing the route
// table with the single-resource counterpart to the Persona Store's
// Get operation (spec §4.6).
func (s *Server) handlePersonaGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	p, ok := s.Personas.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "NotFound", "persona not found")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// handlePersonaDelete removes a persona, the HTTP surface for the
// Persona Store's delete operation (spec §4.6), not named in the
// original route table but implied by every store operation getting one.
func (s *Server) handlePersonaDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := s.Personas.Get(id); !ok {
		writeError(w, http.StatusNotFound, "NotFound", "persona not found")
		return
	}
	if err := s.Personas.Delete(id); err != nil {
		writeError(w, http.StatusInternalServerError, "PersonaStoreError", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
