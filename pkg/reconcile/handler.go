package reconcile

import (
	"encoding/json"
	"net/http"

	"github.com/Septikai/obsidian-google-calendar-sync/pkg/event"
	"github.com/Septikai/obsidian-google-calendar-sync/pkg/store"
)

type EventDto struct {
	Id          string `json:"id,omitempty"`
	Date        string `json:"date"`
	Summary     string `json:"summary"`
	Description string `json:"description"`
	Document    string `json:"document"`
	State       string `json:"state"`
}

type refreshDto struct {
	Queued bool `json:"queued"`
}

type Handler struct {
	dispatcher *Dispatcher
	local      *store.LocalStore
}

func NewHandler(dispatcher *Dispatcher, local *store.LocalStore) *Handler {
	return &Handler{dispatcher: dispatcher, local: local}
}

// Refresh queues a full pass and returns without waiting for it.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	h.dispatcher.RequestPass("http " + r.RemoteAddr)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	if err := json.NewEncoder(w).Encode(refreshDto{Queued: true}); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (h *Handler) Status(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(h.dispatcher.Status()); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (h *Handler) ListEvents(w http.ResponseWriter, _ *http.Request) {
	all := h.local.All()
	events := make([]EventDto, 0, len(all))
	for _, e := range all {
		events = append(events, toEventDto(e))
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(events); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func toEventDto(e event.LocalEvent) EventDto {
	return EventDto{
		Id:          e.ID,
		Date:        e.Date,
		Summary:     e.Summary,
		Description: e.Description,
		Document:    e.Document,
		State:       e.State.String(),
	}
}
