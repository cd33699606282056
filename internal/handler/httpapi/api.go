// Package httpapi is the REST surface of the node: message posting for
// clients that cannot keep a socket, channel management, and the sync
// endpoints backing reconnect catch-up.
package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/webitel/im-messaging-service/internal/auth"
	"github.com/webitel/im-messaging-service/internal/domain/model"
	"github.com/webitel/im-messaging-service/internal/domain/registry"
	"github.com/webitel/im-messaging-service/internal/service/router"
	syncsvc "github.com/webitel/im-messaging-service/internal/service/sync"
)

type API struct {
	router *router.Router
	sync   *syncsvc.Engine
	hub    registry.Hubber
	tokens *auth.Manager
	log    *slog.Logger
}

func NewAPI(rt *router.Router, sync *syncsvc.Engine, hub registry.Hubber, tokens *auth.Manager, log *slog.Logger) *API {
	return &API{
		router: rt,
		sync:   sync,
		hub:    hub,
		tokens: tokens,
		log:    log.With(slog.String("comp", "httpapi")),
	}
}

type createMessageRequest struct {
	ChannelID   uuid.UUID           `json:"channelId"`
	Type        string              `json:"type"`
	Content     string              `json:"content"`
	ParentID    *uuid.UUID          `json:"parentId,omitempty"`
	ClientMsgID string              `json:"clientMsgId,omitempty"`
	Attachments []attachmentRequest `json:"attachments,omitempty"`
}

type attachmentRequest struct {
	URL      string `json:"url"`
	FileName string `json:"fileName,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

type createMessageResponse struct {
	MsgID       uuid.UUID `json:"msgId"`
	SeqID       uint64    `json:"seqId,string"`
	ClientMsgID string    `json:"clientMsgId,omitempty"`
	Status      string    `json:"status"` // "persisted" or "duplicate"
	Timestamp   int64     `json:"timestamp"`
}

// createMessage commits a message through the same pipeline the websocket
// frames take. A retried clientMsgId returns the original commit with 200
// instead of 201.
func (a *API) createMessage(w http.ResponseWriter, r *http.Request) {
	var req createMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body")
		return
	}

	in := &router.CreateMessage{
		ChannelID:   req.ChannelID,
		SenderID:    userFrom(r.Context()),
		Type:        model.ParseMessageType(req.Type),
		Content:     req.Content,
		ParentID:    req.ParentID,
		ClientMsgID: req.ClientMsgID,
	}
	for _, att := range req.Attachments {
		in.Attachments = append(in.Attachments, &model.Attachment{
			ID:       uuid.Must(uuid.NewV7()),
			URL:      att.URL,
			FileName: att.FileName,
			MimeType: att.MimeType,
			Size:     att.Size,
		})
	}

	msg, duplicate, err := a.router.Send(r.Context(), in)
	if err != nil {
		a.writeDomainError(w, err)
		return
	}

	status, code := "persisted", http.StatusCreated
	if duplicate {
		status, code = "duplicate", http.StatusOK
	}
	respond(w, code, createMessageResponse{
		MsgID:       msg.ID,
		SeqID:       msg.SeqID,
		ClientMsgID: msg.ClientMsgID,
		Status:      status,
		Timestamp:   msg.CreatedAt,
	})
}

func (a *API) markRead(w http.ResponseWriter, r *http.Request) {
	messageID, err := uuid.Parse(chi.URLParam(r, "messageID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad message id")
		return
	}
	var req struct {
		ChannelID uuid.UUID `json:"channelId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body")
		return
	}
	if err := a.sync.MarkRead(r.Context(), userFrom(r.Context()), req.ChannelID, messageID); err != nil {
		a.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type createChannelRequest struct {
	WorkspaceID uuid.UUID `json:"workspaceId"`
	Name        string    `json:"name"`
	Type        string    `json:"channelType"`
}

func (a *API) createChannel(w http.ResponseWriter, r *http.Request) {
	var req createChannelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body")
		return
	}
	ch, err := a.router.CreateChannel(r.Context(), req.WorkspaceID, userFrom(r.Context()), req.Name, model.ParseChannelType(req.Type))
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	respond(w, http.StatusCreated, map[string]any{
		"channelId":   ch.ID,
		"workspaceId": ch.WorkspaceID,
		"name":        ch.Name,
		"channelType": ch.Type.Wire(),
	})
}

func (a *API) joinChannel(w http.ResponseWriter, r *http.Request) {
	channelID, err := uuid.Parse(chi.URLParam(r, "channelID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad channel id")
		return
	}
	if err := a.router.JoinChannel(r.Context(), channelID, userFrom(r.Context())); err != nil {
		a.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) leaveChannel(w http.ResponseWriter, r *http.Request) {
	channelID, err := uuid.Parse(chi.URLParam(r, "channelID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad channel id")
		return
	}
	if err := a.router.LeaveChannel(r.Context(), channelID, userFrom(r.Context())); err != nil {
		a.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// syncChannel returns the messages committed after ?sinceSeqId, oldest
// first, plus the caller's read state. Clients page with hasMore until they
// reach the head; with no cursor at all they get the newest page.
func (a *API) syncChannel(w http.ResponseWriter, r *http.Request) {
	channelID, err := uuid.Parse(chi.URLParam(r, "channelID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad channel id")
		return
	}
	var since *uint64
	if raw := r.URL.Query().Get("sinceSeqId"); raw != "" {
		cursor, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad sinceSeqId cursor")
			return
		}
		since = &cursor
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if limit, err = strconv.Atoi(raw); err != nil {
			writeError(w, http.StatusBadRequest, "bad limit")
			return
		}
	}

	out, err := a.sync.SyncChannel(r.Context(), userFrom(r.Context()), channelID, since, limit)
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	respond(w, http.StatusOK, out)
}

type ackRequest struct {
	ChannelID uuid.UUID `json:"channelId"`
	SeqID     uint64    `json:"seqId,string"`
}

func (a *API) ack(w http.ResponseWriter, r *http.Request) {
	var req ackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body")
		return
	}
	if err := a.sync.Ack(r.Context(), userFrom(r.Context()), req.ChannelID, req.SeqID); err != nil {
		a.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) stats(w http.ResponseWriter, _ *http.Request) {
	respond(w, http.StatusOK, a.hub.Stats())
}

func (a *API) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, router.ErrChannelNotFound),
		errors.Is(err, router.ErrParentNotFound),
		errors.Is(err, syncsvc.ErrUnknownMessage):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, router.ErrNotMember),
		errors.Is(err, router.ErrNotWorkspaceMember),
		errors.Is(err, syncsvc.ErrNotMember):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, router.ErrEmptyContent),
		errors.Is(err, router.ErrContentTooLong),
		errors.Is(err, router.ErrParentMismatch):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, syncsvc.ErrSyncInProgress):
		writeError(w, http.StatusConflict, err.Error())
	default:
		a.log.Error("request failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func respond(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	respond(w, code, map[string]string{"error": msg})
}
