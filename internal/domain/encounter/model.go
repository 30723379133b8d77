// Package encounter implements the clinical encounter lifecycle. An
// encounter moves forward through a fixed chain of states and never
// regresses; every transition is a guarded, tenant-scoped update.
package encounter

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Type classifies an encounter by service line.
type Type string

const (
	TypeLab       Type = "LAB"
	TypeRadiology Type = "RAD"
	TypeOPD       Type = "OPD"
	TypeBloodBank Type = "BB"
	TypeIPD       Type = "IPD"
)

var validTypes = map[Type]bool{
	TypeLab:       true,
	TypeRadiology: true,
	TypeOPD:       true,
	TypeBloodBank: true,
	TypeIPD:       true,
}

// IsValid reports whether t is a known encounter type.
func (t Type) IsValid() bool { return validTypes[t] }

// Status is an encounter lifecycle state.
type Status string

const (
	StatusCreated    Status = "CREATED"
	StatusPrep       Status = "PREP"
	StatusInProgress Status = "IN_PROGRESS"
	StatusFinalized  Status = "FINALIZED"
	StatusDocumented Status = "DOCUMENTED"
)

// statusRank orders the lifecycle. Transitions only ever increase rank.
var statusRank = map[Status]int{
	StatusCreated:    0,
	StatusPrep:       1,
	StatusInProgress: 2,
	StatusFinalized:  3,
	StatusDocumented: 4,
}

// After reports whether s comes strictly later in the lifecycle than other.
func (s Status) After(other Status) bool {
	return statusRank[s] > statusRank[other]
}

// Encounter maps to the encounter table. Status only advances forward and
// EndedAt is stamped exactly once, when the encounter is finalized.
type Encounter struct {
	ID         uuid.UUID  `db:"id" json:"id"`
	TenantID   string     `db:"tenant_id" json:"tenant_id"`
	PatientRef string     `db:"patient_ref" json:"patient_ref"`
	Type       Type       `db:"enc_type" json:"type"`
	Status     Status     `db:"status" json:"status"`
	Code       string     `db:"code" json:"encounter_code"`
	StartedAt  time.Time  `db:"started_at" json:"started_at"`
	EndedAt    *time.Time `db:"ended_at" json:"ended_at,omitempty"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time  `db:"updated_at" json:"updated_at"`
}

// FormatCode builds the human-readable encounter code from the tenant-scoped
// per-type, per-year sequence number.
func FormatCode(t Type, year, seq int) string {
	return fmt.Sprintf("%s-%d-%06d", t, year, seq)
}

// ---------------------------------------------------------------------------
// Preparation side-records
// ---------------------------------------------------------------------------

// LabPrep records specimen collection ahead of lab work.
type LabPrep struct {
	SampleCollectedAt *time.Time `json:"sample_collected_at,omitempty"`
	SampleType        *string    `json:"sample_type,omitempty"`
	CollectedBy       *string    `json:"collected_by,omitempty"`
}

// RadPrep records modality readiness ahead of an imaging study.
type RadPrep struct {
	ModalityReadyAt *time.Time `json:"modality_ready_at,omitempty"`
	Modality        *string    `json:"modality,omitempty"`
}

// OPDPrep records vitals intake for an outpatient visit.
type OPDPrep struct {
	VitalsRecordedAt *time.Time `json:"vitals_recorded_at,omitempty"`
}

// BloodBankPrep records donor screening.
type BloodBankPrep struct {
	DonorScreenedAt *time.Time `json:"donor_screened_at,omitempty"`
}

// IPDPrep records bed assignment for an admission.
type IPDPrep struct {
	BedAssignedAt *time.Time `json:"bed_assigned_at,omitempty"`
	Ward          *string    `json:"ward,omitempty"`
}

// PrepRecord holds the per-type preparation details for one encounter.
// Exactly one variant is populated, matching the encounter's type.
type PrepRecord struct {
	ID          uuid.UUID      `json:"id"`
	TenantID    string         `json:"tenant_id"`
	EncounterID uuid.UUID      `json:"encounter_id"`
	Lab         *LabPrep       `json:"lab,omitempty"`
	Rad         *RadPrep       `json:"rad,omitempty"`
	OPD         *OPDPrep       `json:"opd,omitempty"`
	BloodBank   *BloodBankPrep `json:"bb,omitempty"`
	IPD         *IPDPrep       `json:"ipd,omitempty"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// VariantFor reports whether the populated variant matches the encounter
// type.
func (p *PrepRecord) VariantFor(t Type) bool {
	switch t {
	case TypeLab:
		return p.Lab != nil
	case TypeRadiology:
		return p.Rad != nil
	case TypeOPD:
		return p.OPD != nil
	case TypeBloodBank:
		return p.BloodBank != nil
	case TypeIPD:
		return p.IPD != nil
	}
	return false
}

// MissingFields returns the names of required preparation fields still
// absent for the given encounter type. A nil receiver reports every
// required field as missing.
func (p *PrepRecord) MissingFields(t Type) []string {
	var missing []string
	switch t {
	case TypeLab:
		if p == nil || p.Lab == nil || p.Lab.SampleCollectedAt == nil {
			missing = append(missing, "sample_collected_at")
		}
	case TypeRadiology:
		if p == nil || p.Rad == nil || p.Rad.ModalityReadyAt == nil {
			missing = append(missing, "modality_ready_at")
		}
	case TypeOPD:
		if p == nil || p.OPD == nil || p.OPD.VitalsRecordedAt == nil {
			missing = append(missing, "vitals_recorded_at")
		}
	case TypeBloodBank:
		if p == nil || p.BloodBank == nil || p.BloodBank.DonorScreenedAt == nil {
			missing = append(missing, "donor_screened_at")
		}
	case TypeIPD:
		if p == nil || p.IPD == nil || p.IPD.BedAssignedAt == nil {
			missing = append(missing, "bed_assigned_at")
		}
	}
	return missing
}
