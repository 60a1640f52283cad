package stub

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/go-pdf/fpdf"
	"github.com/shopspring/decimal"

	"github.com/warp/congregation-engine/roster"
	"github.com/warp/congregation-engine/serviceyear"
	"github.com/warp/congregation-engine/store/sqlite"
)

// newDocument starts a Letter portrait page with the shared header.
func newDocument(title string) *fpdf.Fpdf {
	doc := fpdf.New("P", "mm", "Letter", "")
	doc.SetFont("Helvetica", "", 10)
	doc.AddPage()
	doc.SetFont("Helvetica", "B", 14)
	doc.CellFormat(0, 10, title, "", 1, "C", false, 0, "")
	doc.SetFont("Helvetica", "", 10)
	doc.Ln(4)
	return doc
}

func renderPDF(doc *fpdf.Fpdf) ([]byte, error) {
	var buf bytes.Buffer
	if err := doc.Output(&buf); err != nil {
		return nil, fmt.Errorf("render document: %w", err)
	}
	return buf.Bytes(), nil
}

// average divides sum by count, rounded to two decimals. Zero count
// yields zero, not a division error.
func average(sum, count int) decimal.Decimal {
	if count == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(sum)).
		Div(decimal.NewFromInt(int64(count))).
		Round(2)
}

func checkbox(checked bool) string {
	if checked {
		return "X"
	}
	return ""
}

// buildS21 renders one publisher's record card for a service year: the
// identity block up top, then one row per period month.
func (s *Server) buildS21(ctx context.Context, p roster.Publisher, year serviceyear.Year) ([]byte, error) {
	reports, err := s.store.ListReportsForYear(ctx, p.ID, year)
	if err != nil {
		return nil, err
	}
	byMonth := make(map[string]int, len(reports))
	for i, r := range reports {
		byMonth[r.Month.String()] = i
	}

	doc := newDocument("REGISTRO DE PUBLICADOR DE LA CONGREGACION")

	doc.CellFormat(100, 6, "Nombre: "+p.DisplayName(), "", 0, "L", false, 0, "")
	doc.CellFormat(0, 6, fmt.Sprintf("Grupo: %d", p.Group), "", 1, "L", false, 0, "")
	doc.CellFormat(100, 6, "Fecha de nacimiento: "+p.BirthDate, "", 0, "L", false, 0, "")
	doc.CellFormat(0, 6, "Fecha de bautismo: "+p.BaptismDate, "", 1, "L", false, 0, "")
	doc.CellFormat(60, 6, "Precursor regular: "+checkbox(p.Type == roster.TypeRegularPioneer), "", 0, "L", false, 0, "")
	doc.CellFormat(60, 6, "Anciano: "+checkbox(p.Privilege == roster.PrivilegeElder), "", 0, "L", false, 0, "")
	doc.CellFormat(0, 6, "Siervo ministerial: "+checkbox(p.Privilege == roster.PrivilegeMinisterialServant), "", 1, "L", false, 0, "")
	doc.Ln(4)

	doc.SetFont("Helvetica", "B", 13)
	doc.CellFormat(0, 7, fmt.Sprintf("Ano de servicio %d", year), "", 1, "L", false, 0, "")
	doc.SetFont("Helvetica", "B", 9)
	doc.CellFormat(45, 7, "Mes", "1", 0, "L", false, 0, "")
	doc.CellFormat(25, 7, "Predico", "1", 0, "C", false, 0, "")
	doc.CellFormat(25, 7, "Cursos", "1", 0, "C", false, 0, "")
	doc.CellFormat(25, 7, "Horas", "1", 0, "C", false, 0, "")
	doc.CellFormat(0, 7, "Notas", "1", 1, "L", false, 0, "")
	doc.SetFont("Helvetica", "", 9)

	totalHours, totalCourses := 0, 0
	for _, m := range year.Months() {
		preached, hours, courses, notes := "", "", "", ""
		if i, ok := byMonth[m.String()]; ok {
			r := reports[i]
			preached = checkbox(r.Preached)
			hours = fmt.Sprintf("%d", r.Hours)
			courses = fmt.Sprintf("%d", r.Courses)
			notes = r.Notes
			totalHours += r.Hours
			totalCourses += r.Courses
		}
		doc.CellFormat(45, 6, m.Label(), "1", 0, "L", false, 0, "")
		doc.CellFormat(25, 6, preached, "1", 0, "C", false, 0, "")
		doc.CellFormat(25, 6, courses, "1", 0, "C", false, 0, "")
		doc.CellFormat(25, 6, hours, "1", 0, "C", false, 0, "")
		doc.CellFormat(0, 6, notes, "1", 1, "L", false, 0, "")
	}
	doc.SetFont("Helvetica", "B", 9)
	doc.CellFormat(45, 6, "Total", "1", 0, "L", false, 0, "")
	doc.CellFormat(25, 6, "", "1", 0, "C", false, 0, "")
	doc.CellFormat(25, 6, fmt.Sprintf("%d", totalCourses), "1", 0, "C", false, 0, "")
	doc.CellFormat(25, 6, fmt.Sprintf("%d", totalHours), "1", 0, "C", false, 0, "")
	doc.CellFormat(0, 6, "", "1", 1, "L", false, 0, "")

	return renderPDF(doc)
}

// buildS21Totals renders the combined card for one publisher type: per
// month, how many reported and the summed hours and courses.
func (s *Server) buildS21Totals(ctx context.Context, typ roster.PublisherType, year serviceyear.Year) ([]byte, error) {
	doc := newDocument("REGISTRO DE PUBLICADOR DE LA CONGREGACION - TOTALES")

	doc.CellFormat(0, 6, "Categoria: "+typ.String(), "", 1, "L", false, 0, "")
	doc.CellFormat(0, 6, fmt.Sprintf("Ano de servicio %d", year), "", 1, "L", false, 0, "")
	doc.Ln(4)

	doc.SetFont("Helvetica", "B", 9)
	doc.CellFormat(45, 7, "Mes", "1", 0, "L", false, 0, "")
	doc.CellFormat(35, 7, "Informes", "1", 0, "C", false, 0, "")
	doc.CellFormat(35, 7, "Cursos", "1", 0, "C", false, 0, "")
	doc.CellFormat(35, 7, "Horas", "1", 0, "C", false, 0, "")
	doc.CellFormat(0, 7, "Promedio horas", "1", 1, "C", false, 0, "")
	doc.SetFont("Helvetica", "", 9)

	for _, m := range year.Months() {
		totals, err := s.store.TotalsForMonth(ctx, m)
		if err != nil {
			return nil, err
		}
		reported, hours, courses := 0, 0, 0
		for _, t := range totals {
			if t.Type == typ {
				reported, hours, courses = t.Reported, t.Hours, t.Courses
			}
		}
		doc.CellFormat(45, 6, m.Label(), "1", 0, "L", false, 0, "")
		doc.CellFormat(35, 6, fmt.Sprintf("%d", reported), "1", 0, "C", false, 0, "")
		doc.CellFormat(35, 6, fmt.Sprintf("%d", courses), "1", 0, "C", false, 0, "")
		doc.CellFormat(35, 6, fmt.Sprintf("%d", hours), "1", 0, "C", false, 0, "")
		doc.CellFormat(0, 6, average(hours, reported).String(), "1", 1, "C", false, 0, "")
	}

	return renderPDF(doc)
}

// buildS88 renders the yearly attendance summary: monthly averages for
// midweek and weekend meetings plus the yearly averages.
func (s *Server) buildS88(ctx context.Context, year serviceyear.Year) ([]byte, error) {
	midweek, err := s.store.ListAttendance(ctx, year, "ES")
	if err != nil {
		return nil, err
	}
	weekend, err := s.store.ListAttendance(ctx, year, "FS")
	if err != nil {
		return nil, err
	}

	type bucket struct{ sum, count int }
	sumByMonth := func(entries []sqlite.AttendanceEntry) map[string]bucket {
		out := make(map[string]bucket)
		for _, e := range entries {
			key := e.MeetingDate[:7] // "2006-01"
			b := out[key]
			b.sum += e.Attendees
			b.count++
			out[key] = b
		}
		return out
	}
	es, fs := sumByMonth(midweek), sumByMonth(weekend)

	doc := newDocument("REGISTRO DE ASISTENCIA A LAS REUNIONES (S-88)")
	doc.CellFormat(0, 6, fmt.Sprintf("Ano de servicio %d", year), "", 1, "L", false, 0, "")
	doc.Ln(4)

	doc.SetFont("Helvetica", "B", 9)
	doc.CellFormat(45, 7, "Mes", "1", 0, "L", false, 0, "")
	doc.CellFormat(55, 7, "Entre semana (promedio)", "1", 0, "C", false, 0, "")
	doc.CellFormat(0, 7, "Fin de semana (promedio)", "1", 1, "C", false, 0, "")
	doc.SetFont("Helvetica", "", 9)

	var esSum, esCount, fsSum, fsCount int
	for _, m := range year.Months() {
		eb, fb := es[m.String()], fs[m.String()]
		esSum += eb.sum
		esCount += eb.count
		fsSum += fb.sum
		fsCount += fb.count
		doc.CellFormat(45, 6, m.Label(), "1", 0, "L", false, 0, "")
		doc.CellFormat(55, 6, average(eb.sum, eb.count).String(), "1", 0, "C", false, 0, "")
		doc.CellFormat(0, 6, average(fb.sum, fb.count).String(), "1", 1, "C", false, 0, "")
	}
	doc.SetFont("Helvetica", "B", 9)
	doc.CellFormat(45, 6, "Promedio anual", "1", 0, "L", false, 0, "")
	doc.CellFormat(55, 6, average(esSum, esCount).String(), "1", 0, "C", false, 0, "")
	doc.CellFormat(0, 6, average(fsSum, fsCount).String(), "1", 1, "C", false, 0, "")

	return renderPDF(doc)
}

// buildS1 renders the monthly statistics report: per-type report
// counts and totals plus the month's attendance averages.
func (s *Server) buildS1(ctx context.Context, month serviceyear.Month) ([]byte, error) {
	totals, err := s.store.TotalsForMonth(ctx, month)
	if err != nil {
		return nil, err
	}

	doc := newDocument("INFORME MENSUAL DE LA CONGREGACION (S-1)")
	doc.CellFormat(0, 6, "Mes: "+month.Label(), "", 1, "L", false, 0, "")
	doc.Ln(4)

	doc.SetFont("Helvetica", "B", 9)
	doc.CellFormat(55, 7, "Categoria", "1", 0, "L", false, 0, "")
	doc.CellFormat(30, 7, "Informes", "1", 0, "C", false, 0, "")
	doc.CellFormat(30, 7, "Cursos", "1", 0, "C", false, 0, "")
	doc.CellFormat(30, 7, "Horas", "1", 0, "C", false, 0, "")
	doc.CellFormat(0, 7, "Promedio", "1", 1, "C", false, 0, "")
	doc.SetFont("Helvetica", "", 9)

	for _, typ := range []roster.PublisherType{roster.TypePublisher, roster.TypeRegularPioneer, roster.TypeAuxiliaryPioneer} {
		reported, hours, courses := 0, 0, 0
		for _, t := range totals {
			if t.Type == typ {
				reported, hours, courses = t.Reported, t.Hours, t.Courses
			}
		}
		doc.CellFormat(55, 6, typ.String(), "1", 0, "L", false, 0, "")
		doc.CellFormat(30, 6, fmt.Sprintf("%d", reported), "1", 0, "C", false, 0, "")
		doc.CellFormat(30, 6, fmt.Sprintf("%d", courses), "1", 0, "C", false, 0, "")
		doc.CellFormat(30, 6, fmt.Sprintf("%d", hours), "1", 0, "C", false, 0, "")
		doc.CellFormat(0, 6, average(hours, reported).String(), "1", 1, "C", false, 0, "")
	}

	// Attendance block for the same month.
	doc.Ln(6)
	doc.SetFont("Helvetica", "B", 9)
	doc.CellFormat(0, 7, "Asistencia a las reuniones", "", 1, "L", false, 0, "")
	doc.SetFont("Helvetica", "", 9)
	for _, mt := range []struct{ code, label string }{{"ES", "Entre semana"}, {"FS", "Fin de semana"}} {
		entries, err := s.store.ListAttendance(ctx, month.ServiceYear(), mt.code)
		if err != nil {
			return nil, err
		}
		sum, count := 0, 0
		for _, e := range entries {
			if e.MeetingDate[:7] == month.String() {
				sum += e.Attendees
				count++
			}
		}
		doc.CellFormat(55, 6, mt.label, "1", 0, "L", false, 0, "")
		doc.CellFormat(30, 6, fmt.Sprintf("%d reuniones", count), "1", 0, "C", false, 0, "")
		doc.CellFormat(0, 6, "Promedio "+average(sum, count).String(), "1", 1, "C", false, 0, "")
	}

	return renderPDF(doc)
}

// buildS3 renders the weekly attendance sheet for one meeting type:
// every recorded meeting of the service year, grouped by month, with
// monthly totals and averages.
func (s *Server) buildS3(ctx context.Context, year serviceyear.Year, meetingType string) ([]byte, error) {
	entries, err := s.store.ListAttendance(ctx, year, meetingType)
	if err != nil {
		return nil, err
	}
	byMonth := make(map[string][]sqlite.AttendanceEntry)
	for _, e := range entries {
		key := e.MeetingDate[:7]
		byMonth[key] = append(byMonth[key], e)
	}

	label := "Entre semana"
	if meetingType == "FS" {
		label = "Fin de semana"
	}

	doc := newDocument("ASISTENCIA SEMANAL (S-3)")
	doc.CellFormat(0, 6, fmt.Sprintf("Ano de servicio %d - %s", year, label), "", 1, "L", false, 0, "")
	doc.Ln(4)

	doc.SetFont("Helvetica", "B", 9)
	doc.CellFormat(45, 7, "Mes", "1", 0, "L", false, 0, "")
	doc.CellFormat(70, 7, "Asistencia por semana", "1", 0, "L", false, 0, "")
	doc.CellFormat(30, 7, "Total", "1", 0, "C", false, 0, "")
	doc.CellFormat(0, 7, "Promedio", "1", 1, "C", false, 0, "")
	doc.SetFont("Helvetica", "", 9)

	for _, m := range year.Months() {
		monthly := byMonth[m.String()]
		weeks := make([]string, len(monthly))
		sum := 0
		for i, e := range monthly {
			weeks[i] = fmt.Sprintf("%d", e.Attendees)
			sum += e.Attendees
		}
		doc.CellFormat(45, 6, m.Label(), "1", 0, "L", false, 0, "")
		doc.CellFormat(70, 6, strings.Join(weeks, "  "), "1", 0, "L", false, 0, "")
		doc.CellFormat(30, 6, fmt.Sprintf("%d", sum), "1", 0, "C", false, 0, "")
		doc.CellFormat(0, 6, average(sum, len(monthly)).String(), "1", 1, "C", false, 0, "")
	}

	return renderPDF(doc)
}
