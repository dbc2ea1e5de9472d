package api

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/openboard/openboard/auth"
	"github.com/openboard/openboard/db"
)

func (s *Server) createBoardHandler(w http.ResponseWriter, r *http.Request) {
	principal := principalFrom(r)
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		writeError(w, http.StatusBadRequest, "board name required")
		return
	}
	now := time.Now().UTC()
	board := &db.Board{
		ID:        uuid.New(),
		Name:      req.Name,
		OwnerID:   principal.ID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.cfg.Database.SaveBoard(r.Context(), board); err != nil {
		log.WithError(err).Error("Could not save board")
		writeError(w, http.StatusInternalServerError, "could not save board")
		return
	}
	writeJSON(w, http.StatusCreated, board)
}

func (s *Server) listBoardsHandler(w http.ResponseWriter, r *http.Request) {
	principal := principalFrom(r)
	boards, err := s.cfg.Database.BoardsForUser(r.Context(), principal.ID)
	if err != nil {
		log.WithError(err).Error("Could not list boards")
		writeError(w, http.StatusInternalServerError, "could not list boards")
		return
	}
	if boards == nil {
		boards = []*db.Board{}
	}
	writeJSON(w, http.StatusOK, boards)
}

// boardWithRole loads the board and the caller's role on it, writing the
// appropriate error response when access is denied.
func (s *Server) boardWithRole(w http.ResponseWriter, r *http.Request) (*db.Board, string, bool) {
	principal := principalFrom(r)
	boardID, err := uuid.Parse(mux.Vars(r)["board_id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid board id")
		return nil, "", false
	}
	board, err := s.cfg.Database.Board(r.Context(), boardID)
	if err != nil {
		log.WithError(err).Error("Could not load board")
		writeError(w, http.StatusInternalServerError, "could not load board")
		return nil, "", false
	}
	if board == nil {
		writeError(w, http.StatusNotFound, "board not found")
		return nil, "", false
	}
	role, err := s.cfg.Oracle.RoleFor(r.Context(), boardID, principal.ID)
	if err != nil {
		log.WithError(err).Error("Could not resolve role")
		writeError(w, http.StatusInternalServerError, "could not resolve role")
		return nil, "", false
	}
	if role == "" {
		writeError(w, http.StatusForbidden, "no access to board")
		return nil, "", false
	}
	return board, role, true
}

func (s *Server) getBoardHandler(w http.ResponseWriter, r *http.Request) {
	board, _, ok := s.boardWithRole(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, board)
}

func (s *Server) renameBoardHandler(w http.ResponseWriter, r *http.Request) {
	board, role, ok := s.boardWithRole(w, r)
	if !ok {
		return
	}
	if role != auth.RoleOwner && role != auth.RoleAdmin {
		writeError(w, http.StatusForbidden, "insufficient role")
		return
	}
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		writeError(w, http.StatusBadRequest, "board name required")
		return
	}
	board.Name = req.Name
	board.UpdatedAt = time.Now().UTC()
	if err := s.cfg.Database.SaveBoard(r.Context(), board); err != nil {
		log.WithError(err).Error("Could not save board")
		writeError(w, http.StatusInternalServerError, "could not save board")
		return
	}
	writeJSON(w, http.StatusOK, board)
}

func (s *Server) deleteBoardHandler(w http.ResponseWriter, r *http.Request) {
	board, role, ok := s.boardWithRole(w, r)
	if !ok {
		return
	}
	if role != auth.RoleOwner {
		writeError(w, http.StatusForbidden, "only the owner may delete a board")
		return
	}
	if err := s.cfg.Database.DeleteBoard(r.Context(), board.ID); err != nil {
		log.WithError(err).Error("Could not delete board")
		writeError(w, http.StatusInternalServerError, "could not delete board")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) createShareLinkHandler(w http.ResponseWriter, r *http.Request) {
	board, role, ok := s.boardWithRole(w, r)
	if !ok {
		return
	}
	if role != auth.RoleOwner && role != auth.RoleAdmin {
		writeError(w, http.StatusForbidden, "insufficient role")
		return
	}
	var req struct {
		Role         string `json:"role"`
		ExpiresHours int    `json:"expires_in_hours"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Role == "" {
		req.Role = auth.RoleViewer
	}
	token, err := generateShareToken()
	if err != nil {
		log.WithError(err).Error("Could not generate share token")
		writeError(w, http.StatusInternalServerError, "could not generate share token")
		return
	}
	link := &db.ShareLink{
		ID:        uuid.New(),
		BoardID:   board.ID,
		Token:     token,
		Role:      req.Role,
		CreatedAt: time.Now().UTC(),
	}
	if req.ExpiresHours > 0 {
		expires := time.Now().UTC().Add(time.Duration(req.ExpiresHours) * time.Hour)
		link.ExpiresAt = &expires
	}
	if err := s.cfg.Database.SaveShareLink(r.Context(), link); err != nil {
		log.WithError(err).Error("Could not save share link")
		writeError(w, http.StatusInternalServerError, "could not save share link")
		return
	}
	writeJSON(w, http.StatusCreated, link)
}

func (s *Server) listShareLinksHandler(w http.ResponseWriter, r *http.Request) {
	board, role, ok := s.boardWithRole(w, r)
	if !ok {
		return
	}
	if role != auth.RoleOwner && role != auth.RoleAdmin {
		writeError(w, http.StatusForbidden, "insufficient role")
		return
	}
	links, err := s.cfg.Database.ShareLinksForBoard(r.Context(), board.ID)
	if err != nil {
		log.WithError(err).Error("Could not list share links")
		writeError(w, http.StatusInternalServerError, "could not list share links")
		return
	}
	if links == nil {
		links = []*db.ShareLink{}
	}
	writeJSON(w, http.StatusOK, links)
}

func (s *Server) deleteShareLinkHandler(w http.ResponseWriter, r *http.Request) {
	board, role, ok := s.boardWithRole(w, r)
	if !ok {
		return
	}
	if role != auth.RoleOwner && role != auth.RoleAdmin {
		writeError(w, http.StatusForbidden, "insufficient role")
		return
	}
	linkID, err := uuid.Parse(mux.Vars(r)["link_id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid link id")
		return
	}
	links, err := s.cfg.Database.ShareLinksForBoard(r.Context(), board.ID)
	if err != nil {
		log.WithError(err).Error("Could not list share links")
		writeError(w, http.StatusInternalServerError, "could not delete share link")
		return
	}
	for _, link := range links {
		if link.ID == linkID {
			if err := s.cfg.Database.DeleteShareLink(r.Context(), linkID); err != nil {
				log.WithError(err).Error("Could not delete share link")
				writeError(w, http.StatusInternalServerError, "could not delete share link")
				return
			}
			s.cfg.Oracle.ForgetShare(link.Token)
			w.WriteHeader(http.StatusNoContent)
			return
		}
	}
	writeError(w, http.StatusNotFound, "share link not found")
}

func generateShareToken() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
