package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/openwallet-foundation-labs/identity-credential/internal/storage"
)

type personSummary struct {
	PersonID int64  `json:"personId"`
	Name     string `json:"name"`
}

type personDetail struct {
	PersonID    int64   `json:"personId"`
	Name        string  `json:"name"`
	DocumentIDs []int64 `json:"documentIds"`
}

// listPersons returns the subjects known to the issuing authority.
func (s *Server) listPersons(c *gin.Context) {
	persons, err := s.store.ListPersons(c.Request.Context())
	if err != nil {
		s.adminError(c, err)
		return
	}
	out := make([]personSummary, 0, len(persons))
	for _, p := range persons {
		out = append(out, personSummary{PersonID: p.PersonID, Name: p.Name})
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) getPerson(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	person, err := s.store.LookupPerson(c.Request.Context(), id)
	if err != nil {
		s.adminError(c, err)
		return
	}
	docIDs, err := s.store.LookupDocumentsByPerson(c.Request.Context(), id)
	if err != nil {
		s.adminError(c, err)
		return
	}
	c.JSON(http.StatusOK, personDetail{
		PersonID:    person.PersonID,
		Name:        person.Name,
		DocumentIDs: docIDs,
	})
}

func (s *Server) getPortrait(c *gin.Context) {
	id, err := strconv.ParseInt(c.Query("person_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad person_id"})
		return
	}
	person, err := s.store.LookupPerson(c.Request.Context(), id)
	if err != nil {
		s.adminError(c, err)
		return
	}
	c.Data(http.StatusOK, "image/jpeg", person.Portrait)
}

// updateDocumentData re-issues a document's content with a fresh data
// timestamp so that configured wallets see an update on their next check.
func (s *Server) updateDocumentData(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := s.store.UpdateDocumentTestData(c.Request.Context(), id); err != nil {
		s.adminError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"documentId": id, "updated": true})
}

// markToDelete flags a configured document so that the owning wallet is
// told to delete its copy on the next update flow.
func (s *Server) markToDelete(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	err := s.store.UpdateConfiguredDocumentStatus(c.Request.Context(), id, storage.StatusToDelete)
	if err != nil {
		s.adminError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"configuredDocumentId": id, "status": storage.StatusToDelete})
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad id"})
		return 0, false
	}
	return id, true
}

func (s *Server) adminError(c *gin.Context, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
