package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/pasture-data/herdsight/internal/db"
)

// recentEventLimit caps how many events ride along on an animal detail
// response.
const recentEventLimit = 25

// validAnimalStatus enumerates the lifecycle states a handler will
// accept. The schema enforces the same set.
var validAnimalStatus = map[string]bool{
	db.AnimalStatusActive:     true,
	db.AnimalStatusSick:       true,
	db.AnimalStatusQuarantine: true,
	db.AnimalStatusSold:       true,
	db.AnimalStatusDeceased:   true,
}

func (s *Server) animalsCollection(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	status := r.URL.Query().Get("status")
	if status != "" && !validAnimalStatus[status] {
		s.writeJSONError(w, http.StatusBadRequest,
			fmt.Sprintf("Invalid 'status' parameter %q", status))
		return
	}
	limit, err := parseLimit(r, defaultListLimit)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	animals, err := s.store.ListAnimals(status, limit)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to retrieve animals: %v", err))
		return
	}

	response := map[string]interface{}{
		"animals": animals,
		"count":   len(animals),
	}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write animals")
		return
	}
}

// animalSubtree routes /api/animals/{id} by method: GET detail,
// PUT status transition, DELETE removal.
func (s *Server) animalSubtree(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	rest := strings.TrimPrefix(r.URL.Path, "/api/animals/")
	id, err := strconv.ParseInt(rest, 10, 64)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest,
			fmt.Sprintf("Invalid animal ID %q", rest))
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.showAnimal(w, id)
	case http.MethodPut:
		s.updateAnimalStatus(w, r, id)
	case http.MethodDelete:
		s.deleteAnimal(w, id)
	default:
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// showAnimal returns the register row with its sighting count and
// recent events, so the detail page needs one request.
func (s *Server) showAnimal(w http.ResponseWriter, id int64) {
	animal, err := s.store.GetAnimal(id)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			s.writeJSONError(w, http.StatusNotFound, fmt.Sprintf("No animal %d", id))
		} else {
			s.writeJSONError(w, http.StatusInternalServerError,
				fmt.Sprintf("Failed to retrieve animal: %v", err))
		}
		return
	}

	sightings, err := s.store.CountSightings(id)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to count sightings: %v", err))
		return
	}
	events, err := s.store.ListEventsByAnimal(id, recentEventLimit)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to retrieve events: %v", err))
		return
	}

	response := map[string]interface{}{
		"animal":    animal,
		"sightings": sightings,
		"events":    events,
	}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write animal")
		return
	}
}

// updateAnimalStatus applies a husbandry lifecycle transition and
// leaves both an event and an audit row behind it.
func (s *Server) updateAnimalStatus(w http.ResponseWriter, r *http.Request, id int64) {
	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if !validAnimalStatus[body.Status] {
		s.writeJSONError(w, http.StatusBadRequest,
			fmt.Sprintf("Invalid status %q", body.Status))
		return
	}

	animal, err := s.store.GetAnimal(id)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			s.writeJSONError(w, http.StatusNotFound, fmt.Sprintf("No animal %d", id))
		} else {
			s.writeJSONError(w, http.StatusInternalServerError,
				fmt.Sprintf("Failed to retrieve animal: %v", err))
		}
		return
	}

	if err := s.store.UpdateAnimalStatus(id, body.Status); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to update status: %v", err))
		return
	}

	s.recordStatusChange(animal, body.Status)

	animal.Status = body.Status
	response := map[string]interface{}{
		"animal": animal,
		"status": body.Status,
	}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write animal")
		return
	}
}

// recordStatusChange writes the event and audit trail for a manual
// transition. Neither failure unwinds the transition itself.
func (s *Server) recordStatusChange(animal *db.Animal, status string) {
	severity := db.SeverityLow
	if status == db.AnimalStatusSick || status == db.AnimalStatusQuarantine {
		severity = db.SeverityHigh
	}
	desc := fmt.Sprintf("status changed from %s to %s", animal.Status, status)
	ev := &db.Event{
		AnimalID:    &animal.ID,
		EventType:   "STATUS_CHANGE",
		Severity:    severity,
		Title:       fmt.Sprintf("Goat %s marked %s", animal.EarTag, status),
		Description: &desc,
	}
	if err := s.store.InsertEvent(ev); err != nil {
		log.Printf("recording status event for animal %d failed: %v", animal.ID, err)
	}
	if err := s.store.AppendAudit(db.AuditCategoryIdentity, "animal",
		strconv.FormatInt(animal.ID, 10), db.AuditAnimalStatus, desc); err != nil {
		log.Printf("audit write failed for animal %d: %v", animal.ID, err)
	}
}

// deleteAnimal removes an animal from the register. The biometric
// template cascades away; events keep their rows with animal_id nulled.
func (s *Server) deleteAnimal(w http.ResponseWriter, id int64) {
	if err := s.store.DeleteAnimal(id); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			s.writeJSONError(w, http.StatusNotFound, fmt.Sprintf("No animal %d", id))
		} else {
			s.writeJSONError(w, http.StatusInternalServerError,
				fmt.Sprintf("Failed to delete animal: %v", err))
		}
		return
	}

	if err := s.store.AppendAudit(db.AuditCategoryIdentity, "animal",
		strconv.FormatInt(id, 10), db.AuditAnimalDeleted, "removed from register"); err != nil {
		log.Printf("audit write failed for animal %d: %v", id, err)
	}

	response := map[string]interface{}{
		"status":    "deleted",
		"animal_id": id,
	}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write response")
		return
	}
}
