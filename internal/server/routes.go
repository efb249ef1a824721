package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	apperrors "github.com/zsiec/lookout/internal/errors"
	"github.com/zsiec/lookout/internal/playback"
	"github.com/zsiec/lookout/internal/stream"
	"github.com/zsiec/lookout/pkg/version"
)

const maxBodyBytes = 1 << 16

type seekRequest struct {
	Timestamp int64 `json:"timestamp"`
}

type directionRequest struct {
	Direction stream.Direction `json:"direction"`
}

type rateRequest struct {
	Rate      float64          `json:"rate"`
	Direction stream.Direction `json:"direction,omitempty"`
}

type clipRequest struct {
	SiteID     int64             `json:"siteId"`
	ChannelID  int64             `json:"channelId"`
	StreamMode stream.StreamMode `json:"streamMode"`
	ToTime     int64             `json:"toTime"`
}

// ClipResponse summarizes a loaded clip.
type ClipResponse struct {
	Codec     string                 `json:"codec"`
	StartTime int64                  `json:"startTime"`
	Segments  int                    `json:"segments"`
	Bytes     int                    `json:"bytes"`
	Metadata  []stream.FrameMetadata `json:"metadata"`
}

// handleVersion handles the /version endpoint
func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "public, max-age=3600")
	s.writeJSON(w, r, http.StatusOK, version.GetInfo())
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, s.player.State())
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := s.player.Snapshot()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, snap)
}

func (s *Server) handleMetadata(w http.ResponseWriter, r *http.Request) {
	md, ok := s.player.CurrentMetadata()
	if !ok {
		s.writeError(w, r, apperrors.NewNotFoundError("frame metadata"))
		return
	}
	s.writeJSON(w, r, http.StatusOK, md)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var opts stream.ConnectionOptions
	if !s.decode(w, r, &opts) {
		return
	}
	s.respond(w, r, s.player.Start(opts))
}

func (s *Server) handleSeek(w http.ResponseWriter, r *http.Request) {
	var req seekRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.respond(w, r, s.player.Seek(req.Timestamp))
}

func (s *Server) handleFrame(w http.ResponseWriter, r *http.Request) {
	var req directionRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.respond(w, r, s.player.FrameByFrame(req.Direction))
}

func (s *Server) handleSkip(w http.ResponseWriter, r *http.Request) {
	var req directionRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.respond(w, r, s.player.Skip(req.Direction))
}

func (s *Server) handleRate(w http.ResponseWriter, r *http.Request) {
	var req rateRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.respond(w, r, s.player.ChangePlaybackRate(req.Rate, req.Direction))
}

// action adapts a parameterless player operation.
func (s *Server) action(op func() error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.respond(w, r, op())
	}
}

// respond writes err, or the resulting state on success.
func (s *Server) respond(w http.ResponseWriter, r *http.Request, err error) {
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, s.player.State())
}

func (s *Server) handlePreviousClip(w http.ResponseWriter, r *http.Request) {
	var req clipRequest
	if !s.decode(w, r, &req) {
		return
	}
	opts := stream.ConnectionOptions{SiteID: req.SiteID, ChannelID: req.ChannelID, StreamMode: req.StreamMode}
	if err := opts.Validate(); err != nil {
		s.writeError(w, r, apperrors.NewValidationError(err.Error()))
		return
	}

	clip, err := s.clips.LoadPrevious(r.Context(), opts, req.ToTime)
	if err != nil {
		if errors.Is(err, playback.ErrIncompleteClip) {
			err = apperrors.Wrap(err, apperrors.ErrorTypeNotFound, "clip not available", http.StatusNotFound)
		}
		s.writeError(w, r, err)
		return
	}

	resp := ClipResponse{
		Codec:     clip.Codec,
		StartTime: clip.StartTime,
		Segments:  len(clip.Segments),
		Metadata:  clip.Metadata,
	}
	for _, seg := range clip.Segments {
		resp.Bytes += len(seg)
	}
	s.writeJSON(w, r, http.StatusOK, resp)
}

// handleEvents streams every VideoState change over a websocket.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).Debug("Events upgrade failed")
		return
	}
	defer ws.Close()

	states, cancel := s.player.Subscribe()
	defer cancel()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func(st stream.VideoState) bool {
		_ = ws.SetWriteDeadline(time.Now().Add(eventWriteTimeout))
		return ws.WriteJSON(st) == nil
	}

	if !send(s.player.State()) {
		return
	}
	for {
		select {
		case st, ok := <-states:
			if !ok {
				_ = ws.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "engine stopped"),
					time.Now().Add(time.Second))
				return
			}
			if !send(st) {
				return
			}
		case <-closed:
			return
		case <-r.Context().Done():
			return
		}
	}
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		s.writeError(w, r, apperrors.NewValidationError(fmt.Sprintf("invalid request body: %v", err)))
		return false
	}
	return true
}

// writeJSON is a helper to write JSON responses
func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.WithError(err).WithField("path", r.URL.Path).Error("Failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, playback.ErrStopped) {
		err = apperrors.NewServiceDownError("playback")
	}
	s.errorHandler.HandleError(w, r, err)
}
