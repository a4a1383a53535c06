package app

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/zombor/quickscan/internal/capture"
	"github.com/zombor/quickscan/internal/export"
	"github.com/zombor/quickscan/internal/library"
	"github.com/zombor/quickscan/internal/scan"
)

// maxUploadSize allows high-resolution phone photos
const maxUploadSize = int64(50 << 20)

// scanView is a saved scan without its image bytes
type scanView struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	OCRText     string    `json:"ocr_text"`
	ContentType string    `json:"content_type"`
	Width       int       `json:"width"`
	Height      int       `json:"height"`
	CreatedAt   time.Time `json:"created_at"`
	FileSize    int64     `json:"file_size"`
	Degraded    bool      `json:"degraded"`
}

func newScanView(r scan.Result) scanView {
	return scanView{
		ID:          r.ID,
		Title:       r.Title,
		OCRText:     r.OCRText,
		ContentType: r.ContentType,
		Width:       r.Width,
		Height:      r.Height,
		CreatedAt:   r.CreatedAt,
		FileSize:    r.FileSize,
		Degraded:    r.Degraded,
	}
}

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Expose-Headers", "Content-Disposition, X-Page-Count, X-Export-Name")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeError maps domain errors onto HTTP statuses
func writeError(w http.ResponseWriter, err error) {
	if reason, ok := capture.FailureReason(err); ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error":  "Could not capture the image. Please try again.",
			"reason": string(reason),
		})
		return
	}

	switch {
	case isNotFound(err):
		writeMessage(w, http.StatusNotFound, err.Error())
	case errors.Is(err, scan.ErrInvalidTransition), errors.Is(err, library.ErrDuplicateID):
		writeMessage(w, http.StatusConflict, err.Error())
	case errors.Is(err, export.ErrExport):
		writeMessage(w, http.StatusInternalServerError, "Error generating PDF. Please try again.")
	default:
		slog.Error("Request failed", "error", err)
		writeMessage(w, http.StatusInternalServerError, "Internal server error")
	}
}

func writeDocument(w http.ResponseWriter, doc *ExportedDocument) {
	w.Header().Set("X-Page-Count", strconv.Itoa(doc.Pages))
	w.Header().Set("X-Export-Name", doc.StoredAs)
	writePDF(w, doc.Filename, doc.Data)
}

// writePDF sends a download. Non-ASCII names use the RFC 2231 filename* form.
func writePDF(w http.ResponseWriter, filename string, data []byte) {
	disposition := mime.FormatMediaType("attachment", map[string]string{"filename": filename})
	if disposition == "" {
		disposition = "attachment"
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", disposition)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Write(data)
}

func writeImage(w http.ResponseWriter, img capture.Image) {
	w.Header().Set("Content-Type", img.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(img.Data)))
	w.Write(img.Data)
}

// handleCaptureDraft accepts an uploaded photo and starts a draft
func (s *Server) handleCaptureDraft(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		writeMessage(w, http.StatusBadRequest, "Error parsing form")
		return
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "No file was selected. Please choose an image to scan.")
		return
	}
	defer f.Close()

	if header.Size > maxUploadSize {
		writeMessage(w, http.StatusBadRequest, "File is too large. Maximum size is 50MB.")
		return
	}

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		writeMessage(w, http.StatusInternalServerError, "Error reading file. Please try again.")
		return
	}

	draft, err := s.service.Capture(r.Context(), data, header.Header.Get("Content-Type"))
	if err != nil {
		slog.Warn("Capture failed", "filename", header.Filename, "error", err)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, draft)
}

// handleGetDraft returns a draft, blocking until enhancement settles when wait is set
func (s *Server) handleGetDraft(w http.ResponseWriter, r *http.Request) {
	wait, _ := strconv.ParseBool(r.URL.Query().Get("wait"))
	draft, err := s.service.Draft(r.Context(), r.PathValue("id"), wait)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, draft)
}

func (s *Server) handleGetDraftImage(w http.ResponseWriter, r *http.Request) {
	img, err := s.service.DraftImage(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeImage(w, img)
}

func (s *Server) handleExportDraft(w http.ResponseWriter, r *http.Request) {
	doc, err := s.service.ExportDraft(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeDocument(w, doc)
}

// handleRenameDraft sets the title from {"title": "..."}
func (s *Server) handleRenameDraft(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title string `json:"title"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	draft, err := s.service.RenameDraft(r.PathValue("id"), req.Title)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, draft)
}

func (s *Server) handleSkipDraft(w http.ResponseWriter, r *http.Request) {
	draft, err := s.service.SkipDraft(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, draft)
}

func (s *Server) handleRetryDraft(w http.ResponseWriter, r *http.Request) {
	draft, err := s.service.RetryDraft(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, draft)
}

func (s *Server) handleFinalizeDraft(w http.ResponseWriter, r *http.Request) {
	result, err := s.service.FinalizeDraft(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, newScanView(result))
}

func (s *Server) handleDiscardDraft(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DiscardDraft(r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleListScans searches the library with ?q=
func (s *Server) handleListScans(w http.ResponseWriter, r *http.Request) {
	results := s.service.Scans(r.URL.Query().Get("q"))
	views := make([]scanView, 0, len(results))
	for _, result := range results {
		views = append(views, newScanView(result))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleGetScan(w http.ResponseWriter, r *http.Request) {
	result, err := s.service.Scan(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newScanView(result))
}

func (s *Server) handleGetScanImage(w http.ResponseWriter, r *http.Request) {
	result, err := s.service.Scan(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeImage(w, result.Image())
}

func (s *Server) handleExportScan(w http.ResponseWriter, r *http.Request) {
	doc, err := s.service.ExportScan(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeDocument(w, doc)
}

func (s *Server) handleDeleteScan(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteScan(r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListScanExports(w http.ResponseWriter, r *http.Request) {
	names, err := s.service.ScanExports(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"exports": names})
}

// handleGetExport downloads a stored document without rendering it again
func (s *Server) handleGetExport(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	data, err := s.service.StoredDocument(name)
	if err != nil {
		writeError(w, err)
		return
	}
	writePDF(w, name, data)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.Status())
}

func (s *Server) handleGetTier(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]export.Tier{"tier": s.service.Tier()})
}

// handleSetTier accepts {"tier": "free"|"pro"}
func (s *Server) handleSetTier(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Tier export.Tier `json:"tier"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid tier. Use \"free\" or \"pro\".")
		return
	}

	s.service.SetTier(req.Tier)
	writeJSON(w, http.StatusOK, map[string]export.Tier{"tier": s.service.Tier()})
}
