package encounter

import (
	"testing"
	"time"
)

func TestFormatCode(t *testing.T) {
	if got := FormatCode(TypeLab, 2026, 123); got != "LAB-2026-000123" {
		t.Errorf("FormatCode = %q", got)
	}
	if got := FormatCode(TypeBloodBank, 2026, 1); got != "BB-2026-000001" {
		t.Errorf("FormatCode = %q", got)
	}
}

func TestStatusAfter(t *testing.T) {
	if !StatusFinalized.After(StatusInProgress) {
		t.Error("FINALIZED should come after IN_PROGRESS")
	}
	if StatusCreated.After(StatusCreated) {
		t.Error("a status does not come after itself")
	}
	if StatusPrep.After(StatusDocumented) {
		t.Error("PREP should not come after DOCUMENTED")
	}
}

func TestPrepMissingFields(t *testing.T) {
	now := time.Now()

	var nilPrep *PrepRecord
	if missing := nilPrep.MissingFields(TypeLab); len(missing) != 1 || missing[0] != "sample_collected_at" {
		t.Errorf("nil prep missing = %v", missing)
	}

	empty := &PrepRecord{Lab: &LabPrep{}}
	if missing := empty.MissingFields(TypeLab); len(missing) != 1 {
		t.Errorf("empty lab prep missing = %v", missing)
	}

	done := &PrepRecord{Lab: &LabPrep{SampleCollectedAt: &now}}
	if missing := done.MissingFields(TypeLab); len(missing) != 0 {
		t.Errorf("complete lab prep missing = %v", missing)
	}

	ipd := &PrepRecord{IPD: &IPDPrep{}}
	if missing := ipd.MissingFields(TypeIPD); len(missing) != 1 || missing[0] != "bed_assigned_at" {
		t.Errorf("ipd prep missing = %v", missing)
	}
}

func TestPrepVariantFor(t *testing.T) {
	p := &PrepRecord{Lab: &LabPrep{}}
	if !p.VariantFor(TypeLab) {
		t.Error("lab variant not recognized")
	}
	if p.VariantFor(TypeOPD) {
		t.Error("lab prep accepted for OPD encounter")
	}
}
