package service

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/electivas-ubb/electivas-api/internal/models"
	appErrors "github.com/electivas-ubb/electivas-api/pkg/errors"
	"github.com/electivas-ubb/electivas-api/pkg/export"
)

// RosterFormat selects the rendered output of a roster export.
type RosterFormat string

// Supported roster export formats.
const (
	RosterFormatCSV RosterFormat = "csv"
	RosterFormatPDF RosterFormat = "pdf"
)

type rosterRepository interface {
	ListDetailByElective(ctx context.Context, electiveID string) ([]models.EnrollmentDetail, error)
}

type rosterElectiveLookup interface {
	FindByID(ctx context.Context, id string) (*models.Elective, error)
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
}

// rosterArchive persists rendered exports so a signed link can serve them
// after the request that produced them has finished.
type rosterArchive interface {
	Save(filename string, data []byte) (string, error)
}

// downloadSigner mints the token that authorizes fetching an archived export.
type downloadSigner interface {
	Generate(electiveID, relPath string) (string, time.Time, error)
}

// RosterExport is a rendered roster file ready for download.
type RosterExport struct {
	Filename    string
	ContentType string
	Payload     []byte
	DownloadURL string
}

// RosterService renders an elective's enrollment roster as CSV or PDF for
// the teacher and program staff. When an archive is configured the rendered
// file is also kept on disk and a signed download link is attached.
type RosterService struct {
	enrollments rosterRepository
	electives   rosterElectiveLookup
	csv         csvRenderer
	pdf         pdfRenderer
	archive     rosterArchive
	signer      downloadSigner
	logger      *zap.Logger
}

// NewRosterService constructs RosterService. archive and signer are optional;
// without them exports are streaming only.
func NewRosterService(enrollments rosterRepository, electives rosterElectiveLookup, csv csvRenderer, pdf pdfRenderer, archive rosterArchive, signer downloadSigner, logger *zap.Logger) *RosterService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	return &RosterService{enrollments: enrollments, electives: electives, csv: csv, pdf: pdf, archive: archive, signer: signer, logger: logger}
}

// Export renders the roster of an elective. Teachers may export only their
// own electives; program heads and administrators may export any.
func (s *RosterService) Export(ctx context.Context, claims *models.JWTClaims, electiveID string, format RosterFormat) (*RosterExport, error) {
	switch claims.Role {
	case models.RoleTeacher, models.RoleProgramHead, models.RoleAdmin:
	default:
		return nil, appErrors.Clone(appErrors.ErrForbidden, "you cannot export rosters")
	}

	elective, err := s.electives.FindByID(ctx, electiveID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "elective not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load elective")
	}
	if claims.Role == models.RoleTeacher && elective.TeacherID != claims.UserID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "you can only export rosters for your own electives")
	}

	rows, err := s.enrollments.ListDetailByElective(ctx, electiveID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load roster")
	}

	dataset := buildRosterDataset(rows)
	title := fmt.Sprintf("Roster %s", elective.Name)

	var payload []byte
	var contentType string
	switch format {
	case RosterFormatCSV:
		payload, err = s.csv.Render(dataset)
		contentType = "text/csv"
	case RosterFormatPDF:
		payload, err = s.pdf.Render(dataset, title)
		contentType = "application/pdf"
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, "format must be csv or pdf")
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render roster")
	}

	result := &RosterExport{
		Filename:    buildRosterFilename(elective.Name, format),
		ContentType: contentType,
		Payload:     payload,
	}
	result.DownloadURL = s.archiveExport(electiveID, result)

	s.logger.Info("roster exported",
		zap.String("elective_id", electiveID),
		zap.String("format", string(format)),
		zap.String("user_id", claims.UserID))
	return result, nil
}

// archiveExport keeps a copy of the rendered roster and returns a signed
// download path for it. Archival is best effort; a failure only loses the
// re-download link, never the streamed response.
func (s *RosterService) archiveExport(electiveID string, result *RosterExport) string {
	if s.archive == nil {
		return ""
	}
	stored, err := s.archive.Save(result.Filename, result.Payload)
	if err != nil {
		s.logger.Warn("failed to archive roster export",
			zap.String("filename", result.Filename),
			zap.Error(err))
		return ""
	}
	if s.signer == nil {
		return ""
	}
	token, _, err := s.signer.Generate(electiveID, stored)
	if err != nil {
		s.logger.Warn("failed to sign roster download link",
			zap.String("filename", result.Filename),
			zap.Error(err))
		return ""
	}
	return "/exports/" + token
}

func buildRosterDataset(rows []models.EnrollmentDetail) export.Dataset {
	headers := []string{"Student", "Status", "Reject Reason", "Reviewed At", "Enrolled At"}
	dataRows := make([]map[string]string, 0, len(rows))
	for _, row := range rows {
		dataRows = append(dataRows, map[string]string{
			"Student":       row.StudentName,
			"Status":        string(row.Status),
			"Reject Reason": derefString(row.RejectReason),
			"Reviewed At":   formatRosterTime(row.ReviewedAt),
			"Enrolled At":   row.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return export.Dataset{Headers: headers, Rows: dataRows}
}

func buildRosterFilename(electiveName string, format RosterFormat) string {
	timestamp := time.Now().UTC().Format("20060102_150405")
	name := strings.ToLower(electiveName)
	replacer := strings.NewReplacer(" ", "_", "/", "-", "\\", "-", ":", "-")
	name = replacer.Replace(name)
	if len(name) > 60 {
		name = name[:60]
	}
	return fmt.Sprintf("roster_%s_%s.%s", name, timestamp, format)
}

func derefString(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}

func formatRosterTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
