package web

import (
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/gin-gonic/gin"

	"medtrack/internal/ics"
	"medtrack/internal/model"
	"medtrack/internal/storage"
)

// icsRequest is the body of POST /api/ics.
type icsRequest struct {
	Entry        *model.Entry        `json:"entry"`
	Professional *model.Professional `json:"professional"`
}

// handleICS renders a caller-supplied entry as a calendar file without
// touching storage.
//
// POST /api/ics {"entry": {...}, "professional": {...} | null}
func (s *Server) handleICS(c *gin.Context) {
	var req icsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Entry == nil {
		writeError(c, http.StatusBadRequest, "entry is required")
		return
	}
	p, err := s.svc.RenderICS(*req.Entry, req.Professional)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeCalendar(c, p)
}

func writeCalendar(c *gin.Context, p ics.Payload) {
	c.Header("Content-Disposition", `attachment; filename="`+p.FileName+`"`)
	c.Data(http.StatusOK, "text/calendar; charset=utf-8", p.Body)
}

// Cases

func (s *Server) listCases(c *gin.Context) {
	cases, err := s.svc.ListCases(c.Request.Context(), userID(c))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	if cases == nil {
		cases = []model.Case{}
	}
	c.JSON(http.StatusOK, cases)
}

func (s *Server) createCase(c *gin.Context) {
	var req struct {
		Name string `json:"name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid JSON body")
		return
	}
	cs, err := s.svc.CreateCase(c.Request.Context(), userID(c), req.Name)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, cs)
}

func (s *Server) getCase(c *gin.Context) {
	cs, err := s.svc.GetCase(c.Request.Context(), userID(c), c.Param("caseId"))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, cs)
}

func (s *Server) addMember(c *gin.Context) {
	var req struct {
		UserID string     `json:"userId"`
		Role   model.Role `json:"role"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid JSON body")
		return
	}
	cs, err := s.svc.AddMember(c.Request.Context(), userID(c), c.Param("caseId"), req.UserID, req.Role)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, cs)
}

func (s *Server) addType(c *gin.Context) {
	var req struct {
		Type string `json:"type"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid JSON body")
		return
	}
	cs, err := s.svc.AddType(c.Request.Context(), userID(c), c.Param("caseId"), req.Type)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, cs)
}

func (s *Server) summary(c *gin.Context) {
	sum, err := s.svc.Summary(c.Request.Context(), userID(c), c.Param("caseId"))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, sum)
}

// Entries

func (s *Server) listEntries(c *gin.Context) {
	filter := storage.EntryFilter{Type: strings.TrimSpace(c.Query("type"))}
	entries, err := s.svc.ListEntries(c.Request.Context(), userID(c), c.Param("caseId"), filter)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	if entries == nil {
		entries = []model.Entry{}
	}
	c.JSON(http.StatusOK, entries)
}

func (s *Server) createEntry(c *gin.Context) {
	var e model.Entry
	if err := c.ShouldBindJSON(&e); err != nil {
		writeError(c, http.StatusBadRequest, "invalid JSON body")
		return
	}
	e.ID = ""
	saved, err := s.svc.SaveEntry(c.Request.Context(), userID(c), c.Param("caseId"), e)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, saved)
}

func (s *Server) getEntry(c *gin.Context) {
	e, err := s.svc.GetEntry(c.Request.Context(), userID(c), c.Param("caseId"), c.Param("entryId"))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, e)
}

func (s *Server) updateEntry(c *gin.Context) {
	var e model.Entry
	if err := c.ShouldBindJSON(&e); err != nil {
		writeError(c, http.StatusBadRequest, "invalid JSON body")
		return
	}
	e.ID = c.Param("entryId")
	saved, err := s.svc.SaveEntry(c.Request.Context(), userID(c), c.Param("caseId"), e)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, saved)
}

func (s *Server) deleteEntry(c *gin.Context) {
	if err := s.svc.DeleteEntry(c.Request.Context(), userID(c), c.Param("caseId"), c.Param("entryId")); err != nil {
		writeServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) toggleEntry(c *gin.Context) {
	e, err := s.svc.ToggleDone(c.Request.Context(), userID(c), c.Param("caseId"), c.Param("entryId"))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, e)
}

func (s *Server) uploadAttachment(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		writeError(c, http.StatusBadRequest, "multipart field \"file\" is required")
		return
	}
	f, err := fh.Open()
	if err != nil {
		writeServiceError(c, err)
		return
	}
	defer f.Close()

	att, err := s.svc.AddAttachment(c.Request.Context(), userID(c), c.Param("caseId"), c.Param("entryId"), fh.Filename, f)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, att)
}

func (s *Server) exportEntry(c *gin.Context) {
	p, err := s.svc.ExportEntry(c.Request.Context(), userID(c), c.Param("caseId"), c.Param("entryId"))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeCalendar(c, p)
}

type seriesRequest struct {
	Template model.Entry `json:"template"`
	// Rule is an RRULE value such as "FREQ=HOURLY;INTERVAL=8;COUNT=21".
	Rule string `json:"rule"`
}

type seriesResponse struct {
	Entries   []model.Entry `json:"entries"`
	Truncated bool          `json:"truncated"`
}

func (s *Server) createSeries(c *gin.Context) {
	var req seriesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid JSON body")
		return
	}
	res, err := s.svc.CreateSeries(c.Request.Context(), userID(c), c.Param("caseId"), req.Template, req.Rule)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, seriesResponse{Entries: res.Entries, Truncated: res.Truncated})
}

// importCalendar accepts either a multipart "file" upload or a JSON body
// {"url": "..."} naming a remote calendar.
func (s *Server) importCalendar(c *gin.Context) {
	ctx := c.Request.Context()
	caseID := c.Param("caseId")

	if c.ContentType() == gin.MIMEMultipartPOSTForm {
		fh, err := c.FormFile("file")
		if err != nil {
			writeError(c, http.StatusBadRequest, "multipart field \"file\" is required")
			return
		}
		f, err := fh.Open()
		if err != nil {
			writeServiceError(c, err)
			return
		}
		defer f.Close()
		body, err := io.ReadAll(io.LimitReader(f, s.cfg.MaxUploadBytes()))
		if err != nil {
			writeServiceError(c, err)
			return
		}
		res, err := s.svc.Import(ctx, userID(c), caseID, body)
		if err != nil {
			writeServiceError(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
		return
	}

	var req struct {
		URL string `json:"url"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.URL) == "" {
		writeError(c, http.StatusBadRequest, "url or multipart file is required")
		return
	}
	res, err := s.svc.ImportURL(ctx, userID(c), caseID, req.URL)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Professionals

func (s *Server) listProfessionals(c *gin.Context) {
	pros, err := s.svc.ListProfessionals(c.Request.Context(), userID(c), c.Param("caseId"))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	if pros == nil {
		pros = []model.Professional{}
	}
	c.JSON(http.StatusOK, pros)
}

func (s *Server) createProfessional(c *gin.Context) {
	var p model.Professional
	if err := c.ShouldBindJSON(&p); err != nil {
		writeError(c, http.StatusBadRequest, "invalid JSON body")
		return
	}
	p.ID = ""
	saved, err := s.svc.SaveProfessional(c.Request.Context(), userID(c), c.Param("caseId"), p)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, saved)
}

func (s *Server) updateProfessional(c *gin.Context) {
	var p model.Professional
	if err := c.ShouldBindJSON(&p); err != nil {
		writeError(c, http.StatusBadRequest, "invalid JSON body")
		return
	}
	p.ID = c.Param("proId")
	saved, err := s.svc.SaveProfessional(c.Request.Context(), userID(c), c.Param("caseId"), p)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, saved)
}

func (s *Server) deleteProfessional(c *gin.Context) {
	if err := s.svc.DeleteProfessional(c.Request.Context(), userID(c), c.Param("caseId"), c.Param("proId")); err != nil {
		writeServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) specialties(c *gin.Context) {
	counts, err := s.svc.SpecialtySummary(c.Request.Context(), userID(c), c.Param("caseId"))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, counts)
}

// Files

// serveFile streams an attachment. The path is the one returned on upload
// (model.Attachment.Path) and encodes the owning case.
func (s *Server) serveFile(c *gin.Context) {
	rel := strings.TrimPrefix(c.Param("path"), "/")
	f, mime, err := s.svc.OpenAttachment(c.Request.Context(), userID(c), rel)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.Header("Content-Type", mime)
	c.Header("X-Content-Type-Options", "nosniff")
	if !inlineMIME(mime) {
		c.Header("Content-Disposition", `attachment; filename="`+path.Base(rel)+`"`)
	}
	http.ServeContent(c.Writer, c.Request, path.Base(rel), st.ModTime(), f)
}

// inlineMIME reports whether a stored file may be displayed by the browser.
// Anything else is downloaded so uploaded markup never runs on the API origin.
func inlineMIME(mime string) bool {
	base, _, _ := strings.Cut(mime, ";")
	base = strings.TrimSpace(base)
	switch {
	case base == "application/pdf":
		return true
	case strings.HasPrefix(base, "image/"):
		return base != "image/svg+xml"
	}
	return false
}
