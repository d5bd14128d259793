package api

import "net/http"

func (s *Server) handleTaskStatus(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, s.scheduler.GetStatus())
}

func (s *Server) handleRunTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.scheduler.RunTask(id); err != nil {
		WriteError(w, http.StatusNotFound, err.Error())
		return
	}
	s.audit(r, "task_triggered", id)
	WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}
