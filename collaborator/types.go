package collaborator

import (
	"github.com/warp/congregation-engine/roster"
	"github.com/warp/congregation-engine/serviceyear"
)

// MonthlyReport is one publisher's filed report for one period month.
// Zero or one exists per (publisher, month); absence means "not yet
// reported", not an error.
type MonthlyReport struct {
	PublisherID  roster.PublisherID
	Month        serviceyear.Month
	Preached     bool
	Hours        int
	Courses      int
	TypeAtReport roster.PublisherType
	Notes        string
}

// ReportSubmission is one row of a batch write: exactly the editable
// report fields, with roster-only fields stripped.
type ReportSubmission struct {
	PublisherID roster.PublisherID   `json:"id_publicador"`
	Month       string               `json:"mes"`
	Preached    int                  `json:"predico_en_el_mes"`
	Hours       int                  `json:"horas"`
	Courses     int                  `json:"cursos_biblicos"`
	Type        roster.PublisherType `json:"id_tipo_publicador"`
	Notes       string               `json:"notas,omitempty"`
}

// NewSubmission builds the wire form of a report for a batch write.
func NewSubmission(r MonthlyReport) ReportSubmission {
	preached := 0
	if r.Preached {
		preached = 1
	}
	return ReportSubmission{
		PublisherID: r.PublisherID,
		Month:       r.Month.String(),
		Preached:    preached,
		Hours:       r.Hours,
		Courses:     r.Courses,
		Type:        r.TypeAtReport,
		Notes:       r.Notes,
	}
}

// BatchResult reports the outcome of a batch write. The service treats
// the batch as one logical operation: either every row landed
// (ErrorCount zero) or the whole call failed.
type BatchResult struct {
	SuccessCount int
	ErrorCount   int
}

// TypeDescription is a publisher-type label as served by the
// collaborator's reference data endpoint.
type TypeDescription struct {
	ID          roster.PublisherType `json:"id"`
	Description string               `json:"descripcion"`
}

// BinaryResponse is a generated document as returned by a report
// endpoint: raw bytes plus transport metadata.
type BinaryResponse struct {
	Bytes       []byte
	Filename    string // from Content-Disposition; empty when absent
	ContentType string
}

// =============================================================================
// WIRE TYPES - The records service speaks Spanish field names
// =============================================================================

type publisherWire struct {
	ID             int    `json:"id"`
	FirstName      string `json:"nombre"`
	LastName       string `json:"apellidos"`
	BirthDate      string `json:"fecha_nacimiento,omitempty"`
	BaptismDate    string `json:"fecha_bautismo,omitempty"`
	Group          int    `json:"grupo"`
	GroupRole      int    `json:"sup_grupo,omitempty"`
	Sex            string `json:"sexo"`
	TypeID         int    `json:"id_tipo_publicador"`
	PrivilegeID    int    `json:"id_privilegio,omitempty"`
	Anointed       int    `json:"ungido,omitempty"`
	Street         string `json:"calle,omitempty"`
	Number         string `json:"num,omitempty"`
	Neighborhood   string `json:"colonia,omitempty"`
	Phone          string `json:"telefono_fijo,omitempty"`
	Mobile         string `json:"telefono_movil,omitempty"`
	EmgContact     string `json:"contacto_emergencia,omitempty"`
	EmgPhone       string `json:"tel_contacto_emergencia,omitempty"`
	EmgEmail       string `json:"correo_contacto_emergencia,omitempty"`
}

func (w publisherWire) toDomain() roster.Publisher {
	return roster.Publisher{
		ID:               roster.PublisherID(w.ID),
		FirstName:        w.FirstName,
		LastName:         w.LastName,
		Group:            w.Group,
		GroupRole:        roster.GroupRole(w.GroupRole),
		Sex:              w.Sex,
		Type:             roster.PublisherType(w.TypeID),
		Privilege:        roster.Privilege(w.PrivilegeID),
		Anointed:         w.Anointed != 0,
		BirthDate:        w.BirthDate,
		BaptismDate:      w.BaptismDate,
		Street:           w.Street,
		Number:           w.Number,
		Neighborhood:     w.Neighborhood,
		Phone:            w.Phone,
		Mobile:           w.Mobile,
		EmergencyContact: w.EmgContact,
		EmergencyPhone:   w.EmgPhone,
		EmergencyEmail:   w.EmgEmail,
	}
}

type reportWire struct {
	PublisherID int    `json:"id_publicador"`
	Month       string `json:"mes"`
	Preached    int    `json:"predico_en_el_mes"`
	Hours       int    `json:"horas"`
	Courses     int    `json:"cursos_biblicos"`
	TypeID      int    `json:"id_tipo_publicador"`
	Notes       string `json:"notas,omitempty"`
}

func (w reportWire) toDomain() (MonthlyReport, error) {
	m, err := serviceyear.ParseMonth(w.Month)
	if err != nil {
		return MonthlyReport{}, err
	}
	return MonthlyReport{
		PublisherID:  roster.PublisherID(w.PublisherID),
		Month:        m,
		Preached:     w.Preached != 0,
		Hours:        w.Hours,
		Courses:      w.Courses,
		TypeAtReport: roster.PublisherType(w.TypeID),
		Notes:        w.Notes,
	}, nil
}
