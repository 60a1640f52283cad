package stub

import (
	"context"
	"fmt"

	"github.com/warp/congregation-engine/collaborator"
	"github.com/warp/congregation-engine/roster"
	"github.com/warp/congregation-engine/serviceyear"
	"github.com/warp/congregation-engine/store/sqlite"
)

// Seed populates an empty store with a small plausible congregation:
// a dozen publishers across two groups, six months of filed reports
// and weekly attendance. Meant for local development; tests seed their
// own narrower fixtures.
func Seed(ctx context.Context, store *sqlite.Store, anchor serviceyear.Month) error {
	publishers := []roster.Publisher{
		{FirstName: "Miguel", LastName: "Alonso", Group: 1, Sex: "H", Type: roster.TypePublisher},
		{FirstName: "Carmen", LastName: "Bautista", Group: 1, Sex: "M", Type: roster.TypeRegularPioneer},
		{FirstName: "Jorge", LastName: "Castillo", Group: 1, Sex: "H", Type: roster.TypePublisher, Privilege: roster.PrivilegeElder, GroupRole: roster.GroupRoleOverseer},
		{FirstName: "Lucia", LastName: "Dominguez", Group: 1, Sex: "M", Type: roster.TypeAuxiliaryPioneer},
		{FirstName: "Raul", LastName: "Espinoza", Group: 1, Sex: "H", Type: roster.TypePublisher, Privilege: roster.PrivilegeMinisterialServant},
		{FirstName: "Ana", LastName: "Fuentes", Group: 1, Sex: "M", Type: roster.TypePublisher},
		{FirstName: "Pedro", LastName: "Galvan", Group: 2, Sex: "H", Type: roster.TypeRegularPioneer, Privilege: roster.PrivilegeElder, GroupRole: roster.GroupRoleOverseer},
		{FirstName: "Rosa", LastName: "Herrera", Group: 2, Sex: "M", Type: roster.TypePublisher},
		{FirstName: "Tomas", LastName: "Ibarra", Group: 2, Sex: "H", Type: roster.TypePublisher, GroupRole: roster.GroupRoleAssistant},
		{FirstName: "Elena", LastName: "Juarez", Group: 2, Sex: "M", Type: roster.TypeAuxiliaryPioneer},
		{FirstName: "David", LastName: "Krauss", Group: 2, Sex: "H", Type: roster.TypePublisher},
		{FirstName: "Marta", LastName: "Luna", Group: 2, Sex: "M", Type: roster.TypePublisher},
	}

	ids := make([]roster.PublisherID, len(publishers))
	for i, p := range publishers {
		id, err := store.SavePublisher(ctx, p)
		if err != nil {
			return fmt.Errorf("seed publisher %s: %w", p.DisplayName(), err)
		}
		ids[i] = id
	}

	// Six months of reports ending at the anchor. Hours vary by type;
	// the exact numbers only need to look like a real congregation.
	month := anchor
	for range [6]int{} {
		var reports []collaborator.MonthlyReport
		for i, p := range publishers {
			hours := 0
			switch p.Type {
			case roster.TypeRegularPioneer:
				hours = 48 + i
			case roster.TypeAuxiliaryPioneer:
				hours = 30 + i
			}
			reports = append(reports, collaborator.MonthlyReport{
				PublisherID:  ids[i],
				Month:        month,
				Preached:     true,
				Hours:        hours,
				Courses:      i % 3,
				TypeAtReport: p.Type,
			})
		}
		if err := store.UpsertReportsBatch(ctx, reports); err != nil {
			return fmt.Errorf("seed reports %s: %w", month, err)
		}

		// Weekly attendance for both meeting types.
		for week := 0; week < month.Weeks(); week++ {
			date := month.First().AddDate(0, 0, week*7)
			for _, mt := range []string{"ES", "FS"} {
				attendees := 68 + week*2
				if mt == "FS" {
					attendees += 15
				}
				err := store.SaveAttendance(ctx, sqlite.AttendanceEntry{
					MeetingDate: date.Format("2006-01-02"),
					MeetingType: mt,
					Attendees:   attendees,
				})
				if err != nil {
					return fmt.Errorf("seed attendance %s: %w", month, err)
				}
			}
		}
		month = month.Prev()
	}
	return nil
}
