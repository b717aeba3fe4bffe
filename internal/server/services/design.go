package services

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/dmitrijs2005/jewelryportal/internal/common"
	"github.com/dmitrijs2005/jewelryportal/internal/dbx"
	"github.com/dmitrijs2005/jewelryportal/internal/logging"
	"github.com/dmitrijs2005/jewelryportal/internal/server/auth"
	"github.com/dmitrijs2005/jewelryportal/internal/server/metrics"
	"github.com/dmitrijs2005/jewelryportal/internal/server/models"
	"github.com/dmitrijs2005/jewelryportal/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/jewelryportal/internal/server/storage"
	"github.com/google/uuid"
)

const (
	contentTypeSVG   = "image/svg+xml"
	maxFileNameRunes = 255

	// svgScanLen bounds the search for the root element past any XML
	// prolog, DOCTYPE or comment header.
	svgScanLen = 8 << 10
)

// allowedContentTypes are the upload types accepted by content sniffing.
var allowedContentTypes = map[string]bool{
	"image/png":       true,
	"image/jpeg":      true,
	"image/gif":       true,
	"image/webp":      true,
	"application/pdf": true,
}

// BlobStore keeps file contents. storage.S3BlobStore implements it.
type BlobStore interface {
	Put(ctx context.Context, key, contentType string, body io.Reader, size int64) error
	PresignGet(ctx context.Context, key, fileName string) (string, error)
	Delete(ctx context.Context, key string) error
}

// FileUpload is a file to attach to a design. ContentType is what the
// client declared; the stored type is sniffed from the content.
type FileUpload struct {
	Kind        string
	FileName    string
	ContentType string
	Body        io.Reader
}

type DesignService struct {
	db             *sql.DB
	repomanager    repomanager.RepositoryManager
	blobs          BlobStore
	maxUploadBytes int64
	logger         logging.Logger
	metrics        *metrics.Metrics

	newStorageKey func() string
}

func NewDesignService(db *sql.DB, rm repomanager.RepositoryManager, blobs BlobStore,
	maxUploadBytes int64, logger logging.Logger, m *metrics.Metrics) *DesignService {
	return &DesignService{
		db:             db,
		repomanager:    rm,
		blobs:          blobs,
		maxUploadBytes: maxUploadBytes,
		logger:         logger.With("module", "design_service"),
		metrics:        m,
		newStorageKey:  storage.NewStorageKey,
	}
}

// Create stores a new submission owned by p with status submitted.
func (s *DesignService) Create(ctx context.Context, p auth.Principal, spec models.DesignSpec) (*models.Design, error) {
	spec.Normalize()
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	d := &models.Design{
		DesignSpec: spec,
		UserID:     p.UserID,
		Status:     models.StatusSubmitted,
	}
	d, err := s.repomanager.Designs(s.db).Create(ctx, d)
	if err != nil {
		return nil, fmt.Errorf("error creating design: %w", err)
	}
	d.Files = []*models.DesignFile{}

	s.logger.Info(ctx, "design submitted", "design_id", d.ID, "style", d.Style)
	return d, nil
}

// Get returns a design with its files if p may see it.
func (s *DesignService) Get(ctx context.Context, p auth.Principal, id string) (*models.Design, error) {
	d, err := s.load(ctx, s.db, p, id, false)
	if err != nil {
		return nil, err
	}
	if err := s.attachFiles(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

// List returns designs matching f. Customers only ever see their own.
func (s *DesignService) List(ctx context.Context, p auth.Principal, f models.DesignFilter) ([]*models.Design, error) {
	if !p.IsAdmin() {
		f.UserID = p.UserID
	}
	if f.Status != "" && !models.IsValidStatus(f.Status) {
		return nil, invalidField("status", "unknown status")
	}
	f.Clamp()

	list, err := s.repomanager.Designs(s.db).List(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("error listing designs: %w", err)
	}

	ids := make([]string, len(list))
	for i, d := range list {
		ids[i] = d.ID
	}
	byDesign, err := s.repomanager.Files(s.db).ListByDesigns(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("error listing files: %w", err)
	}
	for _, d := range list {
		d.Files = byDesign[d.ID]
		if d.Files == nil {
			d.Files = []*models.DesignFile{}
		}
	}
	return list, nil
}

// ListAll pages through every design matching f regardless of Limit/Offset.
func (s *DesignService) ListAll(ctx context.Context, p auth.Principal, f models.DesignFilter) ([]*models.Design, error) {
	var all []*models.Design
	f.Limit = models.MaxListLimit
	f.Offset = 0
	for {
		page, err := s.List(ctx, p, f)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < f.Limit {
			return all, nil
		}
		f.Offset += len(page)
	}
}

// Update replaces the specification of a design. Customers may only edit
// their own designs while they are still submitted.
func (s *DesignService) Update(ctx context.Context, p auth.Principal, id string, spec models.DesignSpec) (*models.Design, error) {
	spec.Normalize()
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	var d *models.Design
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		var err error
		d, err = s.load(ctx, tx, p, id, true)
		if err != nil {
			return err
		}
		if err := checkEditable(p, d); err != nil {
			return err
		}
		d.DesignSpec = spec
		return s.repomanager.Designs(tx).Update(ctx, d)
	})
	if err != nil {
		return nil, err
	}

	if err := s.attachFiles(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

// SetStatus moves a design to status. Admin only.
func (s *DesignService) SetStatus(ctx context.Context, p auth.Principal, id, status string) (*models.Design, error) {
	if !p.IsAdmin() {
		return nil, common.ErrorForbidden
	}
	if !models.IsValidStatus(status) {
		return nil, invalidField("status", "must be one of "+strings.Join(models.Statuses, ", "))
	}
	if _, err := uuid.Parse(id); err != nil {
		return nil, common.ErrorNotFound
	}
	if err := s.repomanager.Designs(s.db).UpdateStatus(ctx, id, status); err != nil {
		return nil, err
	}

	s.logger.Info(ctx, "design status changed", "design_id", id, "status", status)
	return s.Get(ctx, p, id)
}

// Delete removes a design and the blobs of its files.
func (s *DesignService) Delete(ctx context.Context, p auth.Principal, id string) error {
	var keys []string
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		d, err := s.load(ctx, tx, p, id, true)
		if err != nil {
			return err
		}
		if err := checkEditable(p, d); err != nil {
			return err
		}
		files, err := s.repomanager.Files(tx).ListByDesign(ctx, id)
		if err != nil {
			return err
		}
		for _, f := range files {
			keys = append(keys, f.StorageKey)
		}
		return s.repomanager.Designs(tx).Delete(ctx, id)
	})
	if err != nil {
		return err
	}

	for _, k := range keys {
		if err := s.blobs.Delete(ctx, k); err != nil {
			s.logger.Warn(ctx, "orphaned blob", "key", k, "error", err)
		}
	}
	s.logger.Info(ctx, "design deleted", "design_id", id, "files", len(keys))
	return nil
}

// AttachFile validates and stores an upload and records its metadata.
func (s *DesignService) AttachFile(ctx context.Context, p auth.Principal, designID string, in FileUpload) (*models.DesignFile, error) {
	if !models.IsValidFileKind(in.Kind) {
		return nil, invalidField("kind", "must be logo or media")
	}

	d, err := s.load(ctx, s.db, p, designID, false)
	if err != nil {
		return nil, err
	}
	if err := checkEditable(p, d); err != nil {
		return nil, err
	}

	data, err := readLimited(in.Body, s.maxUploadBytes)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, invalidField("file", "is empty")
	}
	contentType, err := detectContentType(data, in.ContentType, in.FileName)
	if err != nil {
		return nil, err
	}

	f := &models.DesignFile{
		DesignID:    d.ID,
		Kind:        in.Kind,
		FileName:    sanitizeFileName(in.FileName),
		ContentType: contentType,
		Size:        int64(len(data)),
		StorageKey:  s.newStorageKey(),
	}

	if err := s.blobs.Put(ctx, f.StorageKey, f.ContentType, bytes.NewReader(data), f.Size); err != nil {
		return nil, fmt.Errorf("error storing file: %w", err)
	}
	if _, err := s.repomanager.Files(s.db).Create(ctx, f); err != nil {
		if delErr := s.blobs.Delete(ctx, f.StorageKey); delErr != nil {
			s.logger.Warn(ctx, "orphaned blob", "key", f.StorageKey, "error", delErr)
		}
		return nil, fmt.Errorf("error saving file: %w", err)
	}

	s.metrics.ObserveUpload(f.Size)
	s.logger.Info(ctx, "file attached", "design_id", d.ID, "file_id", f.ID, "kind", f.Kind, "size", f.Size)
	return f, nil
}

// FileURL returns a presigned download URL for a file of a design.
func (s *DesignService) FileURL(ctx context.Context, p auth.Principal, designID, fileID string) (string, error) {
	f, err := s.loadFile(ctx, p, designID, fileID)
	if err != nil {
		return "", err
	}
	url, err := s.blobs.PresignGet(ctx, f.StorageKey, f.FileName)
	if err != nil {
		return "", fmt.Errorf("error presigning file: %w", err)
	}
	return url, nil
}

// DeleteFile removes a file record and its blob.
func (s *DesignService) DeleteFile(ctx context.Context, p auth.Principal, designID, fileID string) error {
	d, err := s.load(ctx, s.db, p, designID, false)
	if err != nil {
		return err
	}
	if err := checkEditable(p, d); err != nil {
		return err
	}
	if _, err := uuid.Parse(fileID); err != nil {
		return common.ErrorNotFound
	}

	repo := s.repomanager.Files(s.db)
	f, err := repo.Get(ctx, designID, fileID)
	if err != nil {
		return err
	}
	if err := repo.Delete(ctx, designID, fileID); err != nil {
		return err
	}
	if err := s.blobs.Delete(ctx, f.StorageKey); err != nil {
		s.logger.Warn(ctx, "orphaned blob", "key", f.StorageKey, "error", err)
	}
	return nil
}

// --- helpers below ---

// load fetches a design and checks that p may access it.
func (s *DesignService) load(ctx context.Context, db dbx.DBTX, p auth.Principal, id string, forUpdate bool) (*models.Design, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, common.ErrorNotFound
	}

	repo := s.repomanager.Designs(db)
	var (
		d   *models.Design
		err error
	)
	if forUpdate {
		d, err = repo.GetForUpdate(ctx, id)
	} else {
		d, err = repo.Get(ctx, id)
	}
	if err != nil {
		return nil, err
	}
	if !p.CanAccess(d.UserID) {
		return nil, common.ErrorForbidden
	}
	return d, nil
}

func (s *DesignService) loadFile(ctx context.Context, p auth.Principal, designID, fileID string) (*models.DesignFile, error) {
	if _, err := s.load(ctx, s.db, p, designID, false); err != nil {
		return nil, err
	}
	if _, err := uuid.Parse(fileID); err != nil {
		return nil, common.ErrorNotFound
	}
	return s.repomanager.Files(s.db).Get(ctx, designID, fileID)
}

func (s *DesignService) attachFiles(ctx context.Context, d *models.Design) error {
	files, err := s.repomanager.Files(s.db).ListByDesign(ctx, d.ID)
	if err != nil {
		return fmt.Errorf("error listing files: %w", err)
	}
	d.Files = files
	return nil
}

func checkEditable(p auth.Principal, d *models.Design) error {
	if p.IsAdmin() || d.Status == models.StatusSubmitted {
		return nil
	}
	return fmt.Errorf("design is %s: %w", d.Status, common.ErrorConflict)
}

func invalidField(field, msg string) error {
	v := &common.ValidationError{}
	v.Add(field, msg)
	return v
}

// readLimited reads r fully, failing with ErrPayloadTooLarge past limit bytes.
func readLimited(r io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return nil, common.ErrPayloadTooLarge
		}
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, common.ErrPayloadTooLarge
	}
	return data, nil
}

// detectContentType sniffs data. SVG is text and cannot be told apart by
// sniffing alone, so it is accepted when declared (or named .svg) and the
// content carries an <svg element.
func detectContentType(data []byte, declared, fileName string) (string, error) {
	sniffed := http.DetectContentType(data)
	if allowedContentTypes[sniffed] {
		return sniffed, nil
	}

	declared = strings.ToLower(strings.TrimSpace(strings.SplitN(declared, ";", 2)[0]))
	isSVGName := strings.EqualFold(filepath.Ext(fileName), ".svg")
	if (declared == contentTypeSVG || isSVGName) && looksLikeSVG(data) {
		return contentTypeSVG, nil
	}
	return "", fmt.Errorf("%s: %w", sniffed, common.ErrUnsupportedMedia)
}

func looksLikeSVG(data []byte) bool {
	head := data
	if len(head) > svgScanLen {
		head = head[:svgScanLen]
	}
	return bytes.Contains(bytes.ToLower(head), []byte("<svg"))
}

func sanitizeFileName(name string) string {
	name = strings.ReplaceAll(name, `\`, "/")
	name = strings.TrimSpace(filepath.Base(name))
	if name == "." || name == "/" || name == "" {
		return "file"
	}
	if utf8.RuneCountInString(name) > maxFileNameRunes {
		r := []rune(name)
		name = string(r[:maxFileNameRunes])
	}
	return name
}
