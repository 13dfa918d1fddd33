package export

import (
	"context"
	"fmt"
	"io"
	"time"

	"roadbook/internal/models"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"
)

const rosterSheet = "Roster"

var rosterHeaders = []string{"#", "First name", "Last name", "Email", "Phone", "Role", "Rider", "Added by", "Account", "Invited", "Joined"}

// RosterSource is the read side the exporter needs.
type RosterSource interface {
	GetBooking(ctx context.Context, tenantID, id string) (*models.Booking, error)
	ListParticipants(ctx context.Context, tenantID, bookingID string) ([]*models.Participant, error)
}

// RosterExporter renders a booking's participants as an xlsx workbook.
type RosterExporter struct {
	source RosterSource
	logger *zerolog.Logger
}

func NewRosterExporter(source RosterSource, logger *zerolog.Logger) *RosterExporter {
	return &RosterExporter{source: source, logger: logger}
}

// FileName is the suggested download name for a booking's roster.
func FileName(b *models.Booking) string {
	return fmt.Sprintf("roster_%s_%s.xlsx", b.TripSlug, b.ID)
}

// WriteRoster writes the roster of a booking to w.
func (e *RosterExporter) WriteRoster(ctx context.Context, tenantID, bookingID string, w io.Writer) (*models.Booking, error) {
	b, err := e.source.GetBooking(ctx, tenantID, bookingID)
	if err != nil {
		return nil, err
	}
	participants, err := e.source.ListParticipants(ctx, tenantID, bookingID)
	if err != nil {
		return nil, err
	}

	f, err := BuildRoster(b, participants)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if _, err := f.WriteTo(w); err != nil {
		return nil, fmt.Errorf("error writing roster: %w", err)
	}

	e.logger.Info().
		Str("booking_id", b.ID).
		Int("participants", len(participants)).
		Msg("Roster exported")
	return b, nil
}

// BuildRoster lays out the workbook: a title row, the participant table and a totals block.
func BuildRoster(b *models.Booking, participants []*models.Participant) (*excelize.File, error) {
	f := excelize.NewFile()

	index, err := f.NewSheet(rosterSheet)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("error creating sheet: %w", err)
	}
	f.SetActiveSheet(index)
	_ = f.DeleteSheet("Sheet1")

	// Заголовок поездки
	_ = f.SetCellValue(rosterSheet, "A1", rosterTitle(b))
	lastCol, _ := excelize.ColumnNumberToName(len(rosterHeaders))
	_ = f.MergeCell(rosterSheet, "A1", lastCol+"1")
	titleStyle, _ := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 14},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	_ = f.SetCellStyle(rosterSheet, "A1", "A1", titleStyle)

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font: &excelize.Font{Bold: true},
	})
	for i, h := range rosterHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 2)
		_ = f.SetCellValue(rosterSheet, cell, h)
	}
	_ = f.SetCellStyle(rosterSheet, "A2", lastCol+"2", headerStyle)

	organizerStyle, _ := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E2EFDA"}, Pattern: 1},
	})

	row := 3
	for i, p := range participants {
		values := []interface{}{
			i + 1,
			p.FirstName,
			p.LastName,
			p.Email,
			p.Phone,
			p.Role,
			p.RiderType,
			p.AddedBy,
			yesNo(p.AccountCreated),
			formatDate(p.InvitationSentAt),
			formatDate(p.JoinedAt),
		}
		cell, _ := excelize.CoordinatesToCellName(1, row)
		if err := f.SetSheetRow(rosterSheet, cell, &values); err != nil {
			f.Close()
			return nil, fmt.Errorf("error writing row %d: %w", row, err)
		}
		if p.IsOrganizer() {
			_ = f.SetCellStyle(rosterSheet, cell, fmt.Sprintf("%s%d", lastCol, row), organizerStyle)
		}
		row++
	}

	stats := models.ComputeGroupStats(participants)
	row++
	totals := [][2]interface{}{
		{"Pilots", stats.Pilots},
		{"Passengers", stats.Passengers},
		{"Total", fmt.Sprintf("%d/%d", stats.TotalPeople, b.TotalParticipants)},
		{"Accounts", stats.AccountsCreated},
		{"Payment", b.PaymentStatus},
		{"Paid", fmt.Sprintf("%d%%", b.PaymentProgress())},
	}
	for _, t := range totals {
		_ = f.SetCellValue(rosterSheet, fmt.Sprintf("A%d", row), t[0])
		_ = f.SetCellValue(rosterSheet, fmt.Sprintf("B%d", row), t[1])
		row++
	}

	_ = f.SetColWidth(rosterSheet, "A", "A", 5)
	_ = f.SetColWidth(rosterSheet, "B", "E", 22)
	_ = f.SetColWidth(rosterSheet, "F", lastCol, 14)

	return f, nil
}

func rosterTitle(b *models.Booking) string {
	title := b.TripTitle
	if title == "" {
		title = b.TripSnapshot.DisplayTitle()
	}
	if b.StartDate != nil {
		title += " · " + b.StartDate.Format("02.01.2006")
		if b.EndDate != nil {
			title += " - " + b.EndDate.Format("02.01.2006")
		}
	}
	if b.JoinCode != "" {
		title += " · " + b.JoinCode
	}
	return title
}

func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("02.01.2006")
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
