package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/courier/internal/channel"
	"github.com/mattjoyce/courier/internal/ledger"
	"github.com/mattjoyce/courier/internal/notify"
	"github.com/mattjoyce/courier/internal/templates"
)

const maxBodyBytes = 4 << 20

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	chans := s.notifier.Channels()
	enabled := 0
	for _, ch := range chans {
		if ch.Enabled {
			enabled++
		}
	}
	respondJSON(w, http.StatusOK, HealthzResponse{
		Status:          "ok",
		UptimeSeconds:   int64(time.Since(s.startedAt).Seconds()),
		Channels:        len(chans),
		ChannelsEnabled: enabled,
		Templates:       len(s.notifier.Templates()),
	})
}

// handleSend handles POST /notifications. Delivery failures are 200 with
// success=false; only malformed bodies are 4xx.
func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var req notify.Request
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, s.notifier.SendNotification(r.Context(), req))
}

func (s *Server) handleSendBulk(w http.ResponseWriter, r *http.Request) {
	var body BulkRequest
	if err := decodeBody(w, r, &body); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(body.Requests) > s.config.MaxBulk {
		s.writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("at most %d requests per bulk call", s.config.MaxBulk))
		return
	}

	results := s.notifier.SendBulkNotifications(r.Context(), body.Requests)
	resp := BulkResponse{Results: results}
	for _, res := range results {
		if res.Success {
			resp.Sent++
		} else {
			resp.Failed++
		}
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDeliveryStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "messageID")
	st, err := s.notifier.DeliveryStatus(r.Context(), id)
	if errors.Is(err, ledger.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "delivery not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to read delivery status", "message_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to read delivery status")
		return
	}
	respondJSON(w, http.StatusOK, st)
}

func (s *Server) handleStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := s.notifier.Statistics(r.Context())
	if err != nil {
		s.logger.Error("failed to compute statistics", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to compute statistics")
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"templates": s.notifier.Templates()})
}

func (s *Server) handleAddTemplate(w http.ResponseWriter, r *http.Request) {
	var t templates.Template
	if err := decodeBody(w, r, &t); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if t.ID == "" {
		s.writeError(w, http.StatusBadRequest, "template id is required")
		return
	}
	s.notifier.AddTemplate(t)
	respondJSON(w, http.StatusCreated, t)
}

func (s *Server) handleListChannels(w http.ResponseWriter, r *http.Request) {
	chans := s.notifier.Channels()
	out := make([]channel.Channel, 0, len(chans))
	for _, ch := range chans {
		out = append(out, ch.Redacted())
	}
	respondJSON(w, http.StatusOK, ChannelsResponse{Channels: out})
}

func (s *Server) handleAddChannel(w http.ResponseWriter, r *http.Request) {
	var ch channel.Channel
	if err := decodeBody(w, r, &ch); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.notifier.AddChannel(ch); err != nil {
		if errors.Is(err, channel.ErrChannelExists) {
			s.writeError(w, http.StatusConflict, err.Error())
			return
		}
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, ch.Redacted())
}

// handleUpdateChannel handles PUT /channels/{channelID}: full replacement,
// the path id wins over any id in the body.
func (s *Server) handleUpdateChannel(w http.ResponseWriter, r *http.Request) {
	var ch channel.Channel
	if err := decodeBody(w, r, &ch); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ch.ID = chi.URLParam(r, "channelID")
	s.notifier.UpdateChannel(ch)
	respondJSON(w, http.StatusOK, ch.Redacted())
}

func (s *Server) handleRemoveChannel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "channelID")
	if !s.notifier.RemoveChannel(id) {
		s.writeError(w, http.StatusNotFound, "Channel not found: "+id)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleValidateChannel(w http.ResponseWriter, r *http.Request) {
	var ch channel.Channel
	if err := decodeBody(w, r, &ch); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, s.notifier.ValidateChannel(ch))
}

func (s *Server) handleTestChannel(w http.ResponseWriter, r *http.Request) {
	res := s.notifier.TestChannel(r.Context(), chi.URLParam(r, "channelID"))
	respondJSON(w, http.StatusOK, res)
}

func decodeBody(w http.ResponseWriter, r *http.Request, out any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
