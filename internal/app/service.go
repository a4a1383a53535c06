package app

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/zombor/quickscan/internal/capture"
	"github.com/zombor/quickscan/internal/export"
	"github.com/zombor/quickscan/internal/library"
	"github.com/zombor/quickscan/internal/scan"
	"github.com/zombor/quickscan/internal/scanning"
)

// Exporter renders scans into documents
type Exporter interface {
	Export(result scan.Result, tier export.Tier) (*export.Artifact, error)
}

// Status summarizes what the client needs to show the mode badge
type Status struct {
	AIAvailable bool        `json:"ai_available"`
	Tier        export.Tier `json:"tier"`
	Scans       int         `json:"scans"`
}

// ExportedDocument is an artifact that has been written to storage
type ExportedDocument struct {
	*export.Artifact
	StoredAs string
}

// Service is the application facade used by the HTTP server
type Service struct {
	pipeline *scan.Pipeline
	state    *State
	enhancer scanning.Enhancer
	exporter Exporter
	storage  Storage
}

// NewService creates a new Service
func NewService(pipeline *scan.Pipeline, state *State, enhancer scanning.Enhancer, exporter Exporter, storage Storage) *Service {
	return &Service{
		pipeline: pipeline,
		state:    state,
		enhancer: enhancer,
		exporter: exporter,
		storage:  storage,
	}
}

// Capture turns uploaded bytes into a draft and starts its enhancement
func (s *Service) Capture(ctx context.Context, data []byte, contentType string) (scan.Draft, error) {
	source := &capture.BytesSource{Data: data, ContentType: contentType}
	img, err := source.Capture(ctx)
	if err != nil {
		return scan.Draft{}, err
	}
	return s.pipeline.Capture(img)
}

// CaptureFrom captures from any source, such as a file on disk
func (s *Service) CaptureFrom(ctx context.Context, source capture.Source) (scan.Draft, error) {
	img, err := source.Capture(ctx)
	if err != nil {
		return scan.Draft{}, err
	}
	return s.pipeline.Capture(img)
}

// Draft returns a draft snapshot, optionally waiting for enhancement to settle
func (s *Service) Draft(ctx context.Context, id string, wait bool) (scan.Draft, error) {
	if wait {
		return s.pipeline.Wait(ctx, id)
	}
	return s.pipeline.Draft(id)
}

// DraftImage returns the image the draft would be saved with
func (s *Service) DraftImage(id string) (capture.Image, error) {
	result, err := s.pipeline.Preview(id)
	if err != nil {
		return capture.Image{}, err
	}
	return result.Image(), nil
}

// RenameDraft sets the draft title
func (s *Service) RenameDraft(id, title string) (scan.Draft, error) {
	return s.pipeline.Rename(id, title)
}

// SkipDraft abandons enhancement and uses basic mode
func (s *Service) SkipDraft(id string) (scan.Draft, error) {
	return s.pipeline.Skip(id)
}

// RetryDraft starts a new enhancement attempt
func (s *Service) RetryDraft(id string) (scan.Draft, error) {
	return s.pipeline.Retry(id)
}

// FinalizeDraft saves the draft to the library
func (s *Service) FinalizeDraft(id string) (scan.Result, error) {
	return s.pipeline.Finalize(id)
}

// DiscardDraft throws the draft away without touching the library.
// Documents exported from the draft go with it.
func (s *Service) DiscardDraft(id string) error {
	if err := s.pipeline.Discard(id); err != nil {
		return err
	}
	s.removeExports(id)
	return nil
}

// ExportDraft renders a ready draft without saving it
func (s *Service) ExportDraft(id string) (*ExportedDocument, error) {
	result, err := s.pipeline.Preview(id)
	if err != nil {
		return nil, err
	}
	return s.export(result)
}

// Scans searches the library. An empty query lists everything.
func (s *Service) Scans(query string) []scan.Result {
	return s.state.Library().Search(query)
}

// Scan returns a saved scan
func (s *Service) Scan(id string) (scan.Result, error) {
	return s.state.Library().Get(id)
}

// DeleteScan removes a saved scan and its exported documents. Unknown IDs
// are ignored.
func (s *Service) DeleteScan(id string) error {
	if err := s.state.Library().Delete(id); err != nil {
		return fmt.Errorf("deleting scan: %w", err)
	}
	s.removeExports(id)
	return nil
}

// ScanExports lists the stored documents exported from a saved scan
func (s *Service) ScanExports(id string) ([]string, error) {
	if _, err := s.state.Library().Get(id); err != nil {
		return nil, err
	}
	names, err := s.storage.List(exportPrefix(id))
	if err != nil {
		return nil, fmt.Errorf("listing exports: %w", err)
	}
	return names, nil
}

// StoredDocument reads a previously exported document by its stored name
func (s *Service) StoredDocument(name string) ([]byte, error) {
	data, err := s.storage.Get(name)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("export %q: %w", name, fs.ErrNotExist)
	}
	if err != nil {
		return nil, fmt.Errorf("reading export %q: %w", name, err)
	}
	return data, nil
}

// removeExports deletes every stored document for id. Failures leave
// files behind but never fail the caller.
func (s *Service) removeExports(id string) {
	names, err := s.storage.List(exportPrefix(id))
	if err != nil {
		slog.Warn("Failed to list exported documents", "scan_id", id, "error", err)
		return
	}
	for _, name := range names {
		if err := s.storage.Delete(name); err != nil {
			slog.Warn("Failed to delete exported document", "scan_id", id, "name", name, "error", err)
		}
	}
}

func exportPrefix(id string) string {
	return id + "_"
}

// ExportScan renders a saved scan
func (s *Service) ExportScan(id string) (*ExportedDocument, error) {
	result, err := s.state.Library().Get(id)
	if err != nil {
		return nil, err
	}
	return s.export(result)
}

func (s *Service) export(result scan.Result) (*ExportedDocument, error) {
	artifact, err := s.exporter.Export(result, s.state.Tier())
	if err != nil {
		return nil, err
	}

	stored, err := s.storage.Save(exportPrefix(result.ID)+artifact.Filename, artifact.Data)
	if err != nil {
		slog.Error("Failed to store exported document", "scan_id", result.ID, "error", err)
		return nil, fmt.Errorf("%w: storing document: %w", export.ErrExport, err)
	}
	return &ExportedDocument{Artifact: artifact, StoredAs: stored}, nil
}

// Status reports AI availability and the current tier
func (s *Service) Status() Status {
	return Status{
		AIAvailable: s.enhancer.Available(),
		Tier:        s.state.Tier(),
		Scans:       s.state.Library().Len(),
	}
}

// Tier returns the current tier
func (s *Service) Tier() export.Tier {
	return s.state.Tier()
}

// SetTier changes the tier used by subsequent exports
func (s *Service) SetTier(tier export.Tier) {
	s.state.SetTier(tier)
	slog.Info("Tier changed", "tier", tier.String())
}

// isNotFound reports whether err means the draft, scan or document does not exist
func isNotFound(err error) bool {
	return errors.Is(err, scan.ErrDraftNotFound) ||
		errors.Is(err, library.ErrNotFound) ||
		errors.Is(err, fs.ErrNotExist)
}
