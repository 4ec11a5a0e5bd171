package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/whisper/polyglot/internal/chat"
	"github.com/whisper/polyglot/internal/conversation"
	"github.com/whisper/polyglot/internal/message"
)

type handler struct {
	svc   *chat.Service
	stats Stats
	log   *logrus.Logger
}

type createConversationRequest struct {
	Participant1ID string `json:"participant1_id" validate:"required"`
	Participant2ID string `json:"participant2_id" validate:"required,nefield=Participant1ID"`
}

type sendMessageRequest struct {
	ConversationID     string `json:"conversation_id" validate:"required"`
	SenderID           string `json:"sender_id" validate:"required"`
	Text               string `json:"text" validate:"required,max=4096"`
	TranslatedLanguage string `json:"translated_language"`
}

type translateRequest struct {
	Text           string `json:"text" validate:"required"`
	TargetLanguage string `json:"target_language"`
	SourceLanguage string `json:"source_language"`
}

type languageRequest struct {
	PreferredLanguage string `json:"preferred_language" validate:"required"`
}

type languagesResponse struct {
	Languages     []string          `json:"languages"`
	LanguageCodes map[string]string `json:"language_codes"`
}

type preferenceResponse struct {
	UserID            string `json:"user_id"`
	PreferredLanguage string `json:"preferred_language"`
}

func (h *handler) root(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Polyglot Chat API",
		"version": Version,
		"status":  "running",
	})
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	body := map[string]interface{}{"status": "healthy"}
	if h.stats != nil {
		body["connections"] = h.stats.ConnectionCount()
		body["uptime_seconds"] = int64(h.stats.Uptime().Seconds())
	}
	writeJSON(w, http.StatusOK, body)
}

func (h *handler) createConversation(w http.ResponseWriter, r *http.Request) {
	var req createConversationRequest
	if !h.decode(w, r, &req) {
		return
	}
	conv, err := h.svc.GetOrCreateConversation(r.Context(), req.Participant1ID, req.Participant2ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (h *handler) getConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := h.svc.GetConversation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (h *handler) listConversations(w http.ResponseWriter, r *http.Request) {
	convs, err := h.svc.ListConversations(r.Context(), chi.URLParam(r, "user_id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if convs == nil {
		convs = []*conversation.Conversation{}
	}
	writeJSON(w, http.StatusOK, convs)
}

func (h *handler) sendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if !h.decode(w, r, &req) {
		return
	}
	m, err := h.svc.SendMessage(r.Context(), chat.SendRequest{
		ConversationID: req.ConversationID,
		SenderID:       req.SenderID,
		Text:           req.Text,
		TargetLanguage: req.TranslatedLanguage,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *handler) listMessages(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeDetail(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		limit = n
	}
	msgs, err := h.svc.ListMessages(r.Context(), chi.URLParam(r, "conversation_id"), limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if msgs == nil {
		msgs = []*message.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (h *handler) translate(w http.ResponseWriter, r *http.Request) {
	var req translateRequest
	if !h.decode(w, r, &req) {
		return
	}
	target := req.TargetLanguage
	if target == "" {
		target = "english"
	}
	writeJSON(w, http.StatusOK, h.svc.Translate(r.Context(), req.Text, target, req.SourceLanguage))
}

func (h *handler) languages(w http.ResponseWriter, r *http.Request) {
	langs := h.svc.Languages()
	writeJSON(w, http.StatusOK, languagesResponse{
		Languages:     langs.Names(),
		LanguageCodes: langs.Codes(),
	})
}

func (h *handler) setLanguage(w http.ResponseWriter, r *http.Request) {
	var req languageRequest
	if !h.decode(w, r, &req) {
		return
	}
	userID := chi.URLParam(r, "user_id")
	if err := h.svc.SetPreferredLanguage(r.Context(), userID, req.PreferredLanguage); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, preferenceResponse{
		UserID:            userID,
		PreferredLanguage: h.svc.PreferredLanguage(r.Context(), userID),
	})
}

func (h *handler) getLanguage(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "user_id")
	writeJSON(w, http.StatusOK, preferenceResponse{
		UserID:            userID,
		PreferredLanguage: h.svc.PreferredLanguage(r.Context(), userID),
	})
}

// decode reads a JSON body into dst and validates it. It writes a 400 and
// returns false on any failure.
func (h *handler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 64<<10)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	if err := validate.Struct(dst); err != nil {
		writeDetail(w, http.StatusBadRequest, describe(err))
		return false
	}
	return true
}
