package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/you/recurse-review/internal/core"
	"github.com/you/recurse-review/internal/journey"
	"github.com/you/recurse-review/internal/pipeline"
)

const maxBodyBytes = 1 << 20

// personView is the wire shape of a Person Record. Every field is a string.
type personView struct {
	ID                     string `json:"id"`
	Name                   string `json:"name"`
	ProfilePictureURL      string `json:"profile_picture_url"`
	ZulipMessages          string `json:"zulip_messages"`
	ZulipMessagesUpdatedAt string `json:"zulip_messages_updated_at"`
	Journey                string `json:"journey"`
	JourneyUpdatedAt       string `json:"journey_updated_at"`
	CreatedAt              string `json:"created_at"`
}

func viewOf(p core.Person) personView {
	return personView{
		ID:                     p.ID,
		Name:                   p.Name,
		ProfilePictureURL:      p.AvatarURL,
		ZulipMessages:          strconv.FormatInt(p.MessageCount, 10),
		ZulipMessagesUpdatedAt: formatTime(p.MessagesUpdatedAt),
		Journey:                p.Journey,
		JourneyUpdatedAt:       formatTime(p.JourneyUpdatedAt),
		CreatedAt:              formatTime(p.CreatedAt),
	}
}

func viewsOf(people []core.Person) []personView {
	out := make([]personView, 0, len(people))
	for _, p := range people {
		out = append(out, viewOf(p))
	}
	return out
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func (s *Server) handleRecursers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	filters, err := FiltersFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if r.URL.Query().Get("limit") == "" {
		filters.Limit = 0
	}
	people, err := s.store.ListPersons(r.Context(), filters)
	if err != nil {
		slog.Error("httpapi: list recursers", "err", err)
		writeError(w, http.StatusInternalServerError, "Failed to fetch recursers")
		return
	}
	if total, err := s.store.CountPersons(r.Context(), filters); err == nil {
		w.Header().Set("X-Total-Count", strconv.FormatInt(total, 10))
	}
	writeJSON(w, http.StatusOK, viewsOf(people))
}

func (s *Server) handleDB(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	q := r.URL.Query()
	switch op := q.Get("operation"); {
	case op == "getAllRecursers":
		people, err := s.store.ListPersons(r.Context(), Filters{Order: OrderDesc})
		if err != nil {
			slog.Error("httpapi: db getAllRecursers", "err", err)
			writeError(w, http.StatusInternalServerError, "Database operation failed")
			return
		}
		writeJSON(w, http.StatusOK, viewsOf(people))
	case op == "getRecurserByName" && q.Get("name") != "":
		p, err := s.store.GetPersonBySlug(r.Context(), q.Get("name"))
		if err != nil {
			slog.Error("httpapi: db getRecurserByName", "err", err)
			writeError(w, http.StatusInternalServerError, "Database operation failed")
			return
		}
		if p == nil {
			writeJSON(w, http.StatusOK, nil)
			return
		}
		writeJSON(w, http.StatusOK, viewOf(*p))
	default:
		writeError(w, http.StatusBadRequest, "Invalid operation")
	}
}

func (s *Server) handleJourney(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.getJourney(w, r)
	case http.MethodPost:
		s.postJourney(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) getJourney(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		writeError(w, http.StatusBadRequest, "Name parameter is required")
		return
	}
	p, err := s.store.GetPersonByName(r.Context(), name)
	if err != nil {
		slog.Error("httpapi: get journey", "person", name, "err", err)
		writeError(w, http.StatusInternalServerError, "Failed to fetch journey")
		return
	}
	if p == nil {
		writeError(w, http.StatusNotFound, "User not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"journey": p.Journey})
}

func (s *Server) postJourney(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name        string          `json:"name"`
		JourneyData json.RawMessage `json:"journeyData"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body. Expected JSON.")
		return
	}
	if body.Name == "" || len(body.JourneyData) == 0 || string(body.JourneyData) == "null" {
		writeError(w, http.StatusBadRequest, "Missing required fields")
		return
	}
	j, err := journey.DecodeCards(body.JourneyData)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid journeyData: "+err.Error())
		return
	}

	p, err := s.store.UpdateJourneyByName(r.Context(), body.Name, journey.Canonical(j))
	if err != nil {
		if statusFor(err) == http.StatusNotFound {
			writeError(w, http.StatusNotFound, "User not found")
			return
		}
		slog.Error("httpapi: update journey", "person", body.Name, "err", err)
		writeError(w, http.StatusInternalServerError, "Failed to update journey")
		return
	}
	writeJSON(w, http.StatusOK, viewOf(p))
}

type generateResponse struct {
	Message  string `json:"message"`
	PersonID string `json:"personId"`
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var body map[string]any
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body. Expected JSON. "+err.Error())
		return
	}
	raw, ok := body["name"].(string)
	name := strings.TrimSpace(raw)
	if !ok || name == "" {
		writeError(w, http.StatusBadRequest, `Missing or invalid "name" (string) in request body.`)
		return
	}

	res, err := s.generate(r.Context(), name)
	if err != nil {
		slog.Error("httpapi: generate journey", "person", name, "err", err)
		writeError(w, statusFor(err), "Failed to generate journey: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, generateResponse{
		Message:  fmt.Sprintf("Successfully generated and saved journey for %s.", name),
		PersonID: res.PersonID,
	})
}

// generate joins an in-flight run for the same name. The run is detached from
// the request so a disconnecting caller does not cancel it for the others.
func (s *Server) generate(ctx context.Context, name string) (pipeline.Result, error) {
	v, err, shared := s.inflight.Do(name, func() (any, error) {
		runCtx := context.WithoutCancel(ctx)
		if s.opts.GenerateTimeout > 0 {
			var cancel context.CancelFunc
			runCtx, cancel = context.WithTimeout(runCtx, s.opts.GenerateTimeout)
			defer cancel()
		}
		return s.gen.GenerateJourneyForPerson(runCtx, name)
	})
	if shared {
		s.metrics.IncShared()
	}
	if err != nil {
		return pipeline.Result{}, err
	}
	return v.(pipeline.Result), nil
}
