package api

import "net/http"

// handleListModules returns the running module instances.
func (s *Server) handleListModules(w http.ResponseWriter, _ *http.Request) {
	if s.modules == nil {
		writeNotFound(w, "module management not available")
		return
	}
	infos := s.modules.List()
	writeJSON(w, http.StatusOK, map[string]any{
		"modules": infos,
		"count":   len(infos),
	})
}

// handleReloadModules re-reads the declared module set and reconciles
// the running modules against it.
func (s *Server) handleReloadModules(w http.ResponseWriter, r *http.Request) {
	if s.modules == nil || s.specs == nil {
		writeNotFound(w, "module management not available")
		return
	}

	specs, err := s.specs()
	if err != nil {
		writeInternalError(w, "failed to load module declarations: "+err.Error())
		return
	}

	if err := s.modules.Reload(r.Context(), specs); err != nil {
		// Partial reloads are possible; report the failures but include
		// the surviving module list.
		s.logger.Error("module reload incomplete", "error", err)
		writeJSON(w, http.StatusMultiStatus, map[string]any{
			"modules": s.modules.List(),
			"error":   err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"modules": s.modules.List(),
	})
}
