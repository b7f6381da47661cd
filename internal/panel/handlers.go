package panel

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

func pathInt64(r *http.Request, key string) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, key), 10, 64)
}

// --- source groups (spec §4.1) ---

func (s *Server) handleListSourceGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := s.Store.ListSourceGroups(reqCtx(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, groups)
}

func (s *Server) handleListTopics(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "sourceGroupID")
	if err != nil {
		writeError(w, err)
		return
	}
	topics, err := s.Store.ListTopics(reqCtx(r), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, topics)
}

func (s *Server) handleSetSourceGroupEnabled(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "sourceGroupID")
	if err != nil {
		writeError(w, err)
		return
	}
	var body struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, err)
		return
	}
	if err := s.Store.SetSourceGroupEnabled(reqCtx(r), id, body.Enabled); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleDeleteSourceGroup(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "sourceGroupID")
	if err != nil {
		writeError(w, err)
		return
	}
	report, err := s.Store.DeleteSourceGroup(reqCtx(r), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleSetTopicEnabled(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "topicID")
	if err != nil {
		writeError(w, err)
		return
	}
	var body struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, err)
		return
	}
	if err := s.Store.SetTopicEnabled(reqCtx(r), id, body.Enabled); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// --- channels (spec §4.1, §4.4) ---

func (s *Server) handleListChannels(w http.ResponseWriter, r *http.Request) {
	channels, err := s.Store.ListChannels(reqCtx(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, channels)
}

func (s *Server) handleListStandbyChannels(w http.ResponseWriter, r *http.Request) {
	channels, err := s.Store.ListStandbyChannels(reqCtx(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, channels)
}

func (s *Server) handleDeleteChannel(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "channelID")
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.Store.DeleteChannel(reqCtx(r), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleClearStandbyChannels(w http.ResponseWriter, r *http.Request) {
	if err := s.Store.ClearStandbyChannels(reqCtx(r)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// --- bindings (spec §4.1) ---

func (s *Server) handleListBindings(w http.ResponseWriter, r *http.Request) {
	bindings, err := s.Store.ListBoundTopics(reqCtx(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bindings)
}

func (s *Server) handleSetBindingActive(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "bindingID")
	if err != nil {
		writeError(w, err)
		return
	}
	var body struct {
		Active bool `json:"active"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, err)
		return
	}
	if err := s.Store.SetBindingActive(reqCtx(r), id, body.Active); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// --- banned channels (spec §4.1) ---

func (s *Server) handleListBannedChannels(w http.ResponseWriter, r *http.Request) {
	banned, err := s.Store.ListRecentBannedChannels(reqCtx(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, banned)
}

func (s *Server) handleRemoveBannedChannel(w http.ResponseWriter, r *http.Request) {
	var body struct {
		SourceGroupID int64 `json:"source_group_id"`
		TopicID       int64 `json:"topic_id"`
		ChannelChatID int64 `json:"channel_chat_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, err)
		return
	}
	if err := s.Store.RemoveBannedChannel(reqCtx(r), body.SourceGroupID, body.TopicID, body.ChannelChatID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleClearBannedChannels(w http.ResponseWriter, r *http.Request) {
	if err := s.Store.ClearBannedChannels(reqCtx(r)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// --- recovery queue (spec §4.7) ---

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "jobID")
	if err != nil {
		writeError(w, err)
		return
	}
	job, err := s.Store.JobByID(reqCtx(r), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleEnqueueManual(w http.ResponseWriter, r *http.Request) {
	var body struct {
		SourceGroupID int64  `json:"source_group_id"`
		TopicID       int64  `json:"topic_id"`
		ChannelChatID int64  `json:"channel_chat_id"`
		Reason        string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, err)
		return
	}
	id, err := s.Store.EnqueueManual(reqCtx(r), body.SourceGroupID, body.TopicID, body.ChannelChatID, body.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job_id": id})
}

func (s *Server) handleRequeueJob(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "jobID")
	if err != nil {
		writeError(w, err)
		return
	}
	var body struct {
		Restart bool `json:"restart"`
	}
	// a body is optional; absence just means restart=false.
	_ = json.NewDecoder(r.Body).Decode(&body)
	if err := s.Store.Requeue(reqCtx(r), id, body.Restart); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleStopJob(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "jobID")
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.Store.Stop(reqCtx(r), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// --- standby pool (spec §4.4) ---

func (s *Server) handleStandbyAdmit(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Refs []string `json:"refs"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, err)
		return
	}
	admitted, err := s.Standby.BatchAdmit(reqCtx(r), body.Refs)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, admitted)
}

func (s *Server) handleStandbyRefresh(w http.ResponseWriter, r *http.Request) {
	if err := s.Standby.Refresh(reqCtx(r)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}
