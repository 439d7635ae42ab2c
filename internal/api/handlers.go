package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/susu3304/monkibaat/internal/story"
)

// Public handlers
func (a *API) handleCurrentStory(w http.ResponseWriter, r *http.Request) {
	st, err := a.stories.Latest()
	if err != nil {
		writeStoryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st.State())
}

func (a *API) handleListStories(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.stories.List())
}

func (a *API) handleGetStory(w http.ResponseWriter, r *http.Request) {
	state, err := a.stories.GetState(mux.Vars(r)["story_id"])
	if err != nil {
		writeStoryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (a *API) handleGetSettlement(w http.ResponseWriter, r *http.Request) {
	state, err := a.stories.GetState(mux.Vars(r)["story_id"])
	if err != nil {
		writeStoryError(w, err)
		return
	}
	if state.Settlement == nil {
		writeError(w, http.StatusNotFound, "story has not been settled")
		return
	}
	writeJSON(w, http.StatusOK, state.Settlement)
}

// Protected handlers
func (a *API) handleCreateStory(w http.ResponseWriter, r *http.Request) {
	st, err := a.stories.Create(r.Context())
	if err != nil {
		writeStoryError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, st.State())
}

func (a *API) handleAddLine(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())

	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	line, err := a.stories.AddLine(r.Context(), mux.Vars(r)["story_id"], req.Text, story.Address(claims.Address))
	if err != nil {
		writeStoryError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, line)
}

func (a *API) handleDonate(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())

	var req struct {
		Amount story.Amount `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	balance, err := a.stories.Donate(r.Context(), mux.Vars(r)["story_id"], req.Amount, story.Address(claims.Address))
	if err != nil {
		writeStoryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"balance": balance,
	})
}
