/*
dto.go - API data transfer objects

PURPOSE:
  Shapes the domain types for the frontend. DTOs are deliberately flat:
  the UI binds them directly to the bulk-edit grid and the viewer pane.

SEE ALSO:
  - handlers.go: where these are produced
*/
package api

import (
	"github.com/warp/congregation-engine/pdfview"
	"github.com/warp/congregation-engine/reconcile"
	"github.com/warp/congregation-engine/serviceyear"
)

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// RowDTO is one grid row of a bulk-edit session.
type RowDTO struct {
	RowID       string `json:"rowId"`
	PublisherID int    `json:"publisherId"`
	Name        string `json:"name"`
	Group       int    `json:"group"`
	Tier        int    `json:"tier"`
	Seeded      bool   `json:"seeded"`
	Preached    bool   `json:"preached"`
	Hours       int    `json:"hours"`
	Courses     int    `json:"courses"`
	TypeID      int    `json:"typeId"`
	TypeLabel   string `json:"typeLabel"`
	Notes       string `json:"notes,omitempty"`
}

func toRowDTO(row reconcile.Row) RowDTO {
	return RowDTO{
		RowID:       row.RowID,
		PublisherID: int(row.Publisher.ID),
		Name:        row.Publisher.DisplayName(),
		Group:       row.Publisher.Group,
		Tier:        int(row.Tier),
		Seeded:      row.Seeded,
		Preached:    row.Preached,
		Hours:       row.Hours,
		Courses:     row.Courses,
		TypeID:      int(row.Type),
		TypeLabel:   row.Type.String(),
		Notes:       row.Notes,
	}
}

// SessionDTO is a bulk-edit working set.
type SessionDTO struct {
	SessionID      string   `json:"sessionId"`
	Group          int      `json:"group"`
	Month          string   `json:"month"`
	MonthLabel     string   `json:"monthLabel"`
	Rows           []RowDTO `json:"rows"`
	TierBoundaries []int    `json:"tierBoundaries"`
	Warnings       int      `json:"warnings"`
}

func toSessionDTO(s *reconcile.Session) SessionDTO {
	rows := s.Rows()
	dtos := make([]RowDTO, len(rows))
	for i, row := range rows {
		dtos[i] = toRowDTO(row)
	}
	return SessionDTO{
		SessionID:      s.ID,
		Group:          s.Group,
		Month:          s.Month.String(),
		MonthLabel:     s.Month.Label(),
		Rows:           dtos,
		TierBoundaries: s.TierBoundaries(),
		Warnings:       s.Warnings(),
	}
}

// SubmitResultDTO reports a batch submit outcome.
type SubmitResultDTO struct {
	SuccessCount int `json:"successCount"`
	ErrorCount   int `json:"errorCount"`
}

// ServiceYearDTO is the reporting period frame for a date.
type ServiceYearDTO struct {
	Year   int        `json:"year"`
	Start  string     `json:"start"`
	End    string     `json:"end"`
	Months []MonthDTO `json:"months"`
}

// MonthDTO is one period month with its display label.
type MonthDTO struct {
	Month string `json:"month"`
	Label string `json:"label"`
}

func toServiceYearDTO(y serviceyear.Year) ServiceYearDTO {
	start, end := y.Span()
	months := y.Months()
	dtos := make([]MonthDTO, len(months))
	for i, m := range months {
		dtos[i] = MonthDTO{Month: m.String(), Label: m.Label()}
	}
	return ServiceYearDTO{
		Year:   int(y),
		Start:  start.Format("2006-01-02"),
		End:    end.Format("2006-01-02"),
		Months: dtos,
	}
}

// RenderDTO is one viewer page with its fit-to-width scale.
type RenderDTO struct {
	Page      int     `json:"page"`
	PageCount int     `json:"pageCount"`
	Width     float64 `json:"width"`
	Height    float64 `json:"height"`
	Scale     float64 `json:"scale"`
	CanPrev   bool    `json:"canPrev"`
	CanNext   bool    `json:"canNext"`
}

func toRenderDTO(r pdfview.Render, canPrev, canNext bool) RenderDTO {
	return RenderDTO{
		Page:      r.Page,
		PageCount: r.PageCount,
		Width:     r.Width,
		Height:    r.Height,
		Scale:     r.Scale,
		CanPrev:   canPrev,
		CanNext:   canNext,
	}
}

// ViewerDTO is a freshly loaded document.
type ViewerDTO struct {
	ViewerID string    `json:"viewerId"`
	Filename string    `json:"filename"`
	Render   RenderDTO `json:"render"`
}
