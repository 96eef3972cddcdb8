// Package counselor defines the directory record domain type and its merge rules.
package counselor

import (
	"time"

	"github.com/AIDiaryET/counselor-crawler/internal/textnorm"
)

// Source tags every record with the directory it was observed on.
const Source = "KCA"

// FieldSep separates independently observed contributions inside the
// append-merging fields (targets, specialty, regions).
const FieldSep = " | "

// Record is one persistent directory entry. Rows are created by the list
// crawl and enriched by the detail crawl; they are never deleted.
type Record struct {
	ID        int64  `json:"id"`
	Identity  string `json:"identity"`
	Source    string `json:"source"`
	SourceID  string `json:"sourceId"`
	DetailURL string `json:"detailUrl"`

	Name        string `json:"name"`
	Gender      string `json:"gender"`
	LicenseNo   string `json:"licenseNo"`
	LicenseType string `json:"licenseType"`
	Email       string `json:"email"`

	Targets      string `json:"targets"`
	Specialty    string `json:"specialty"`
	Regions      string `json:"regions"`
	Fee          string `json:"fee"`
	ProfileImage string `json:"profileImage"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// DeriveIdentity computes the deduplication key from the best available
// identifying fields. Every record gets a deterministic key even when the
// richest identifier is missing.
func (r *Record) DeriveIdentity() string {
	if r.SourceID != "" {
		return textnorm.Identity(r.Source, r.SourceID)
	}
	if r.LicenseNo != "" {
		return textnorm.Identity(r.LicenseNo)
	}
	if r.Email != "" {
		return textnorm.Identity(r.Name, r.Email)
	}
	return textnorm.Identity(r.Name, r.Gender)
}

// ListRow is one summary row of a paginated list page.
type ListRow struct {
	SourceID  string
	DetailURL string
	Name      string
	Gender    string
	Region    string
	Specialty string
	Acquired  string
	Comment   string
}

// Detail is the field set of one detail page. Absent fields are empty
// strings and are backfilled opportunistically on later crawls.
type Detail struct {
	Name         string
	Gender       string
	Email        string
	LicenseNo    string
	LicenseType  string
	Targets      string
	Specialty    string
	Regions      string
	Fee          string
	ProfileImage string
}

// ApplyListRow refreshes the fields the list page is authoritative for and
// append-merges the fields the detail pass also contributes to. A later list
// crawl can never erase what a detail crawl learned.
func (r *Record) ApplyListRow(row ListRow) {
	r.Source = Source
	r.SourceID = row.SourceID
	r.DetailURL = row.DetailURL
	r.Identity = r.DeriveIdentity()

	if row.Name != "" {
		r.Name = row.Name
	}
	if row.Gender != "" {
		r.Gender = row.Gender
	}
	r.Specialty = textnorm.MergeDistinct(r.Specialty, row.Specialty, FieldSep)
	r.Regions = textnorm.MergeDistinct(r.Regions, row.Region, FieldSep)
}

// ApplyDetail merges a detail page into the record. The detail page is
// authoritative for name, gender, email, license and fee, so those overwrite
// when present; targets and regions append-merge; specialty is replaced by
// its normalized form when extraction produced one.
func (r *Record) ApplyDetail(d Detail) {
	if d.Name != "" {
		r.Name = d.Name
	}
	if d.Gender != "" {
		r.Gender = d.Gender
	}
	if d.Email != "" {
		r.Email = d.Email
	}
	if d.LicenseNo != "" {
		r.LicenseNo = d.LicenseNo
	}
	if d.LicenseType != "" {
		r.LicenseType = d.LicenseType
	}
	r.Targets = textnorm.MergeDistinct(r.Targets, d.Targets, FieldSep)
	if norm := textnorm.NormalizeSpecialty(d.Specialty); norm != "" {
		r.Specialty = norm
	}
	r.Regions = textnorm.MergeDistinct(r.Regions, d.Regions, FieldSep)
	if d.Fee != "" {
		r.Fee = d.Fee
	}
	if d.ProfileImage != "" {
		r.ProfileImage = d.ProfileImage
	}
}
