// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages.
package shared

import (
	"fmt"
	"regexp"
	"strings"
)

// ═══════════════════════════════════════════════════════════════════════════
// RollNo Value Object
// ═══════════════════════════════════════════════════════════════════════════

// RollNo is the unique, immutable identifier of a student.
type RollNo string

// Roll numbers are alphanumeric, uppercase after normalization (e.g. "22B81A05C3").
var rollNoRegex = regexp.MustCompile(`^[A-Z0-9][A-Z0-9-]{2,19}$`)

// IsValid checks if the roll number has a valid format.
func (r RollNo) IsValid() bool {
	return rollNoRegex.MatchString(string(r))
}

// String returns the string representation.
func (r RollNo) String() string {
	return string(r)
}

// NewRollNo normalizes (trim, uppercase) and validates a roll number.
func NewRollNo(value string) (RollNo, error) {
	r := RollNo(strings.ToUpper(strings.TrimSpace(value)))
	if !r.IsValid() {
		return "", NewDomainError("shared", "NewRollNo", ErrInvalidInput, "invalid roll number")
	}
	return r, nil
}

// ═══════════════════════════════════════════════════════════════════════════
// Branch Value Object
// ═══════════════════════════════════════════════════════════════════════════

// Branch is the academic department of a student.
type Branch string

// Known branches.
const (
	BranchCSE   Branch = "CSE"
	BranchCSM   Branch = "CSM"
	BranchCSD   Branch = "CSD"
	BranchCSC   Branch = "CSC"
	BranchECE   Branch = "ECE"
	BranchEEE   Branch = "EEE"
	BranchMECH  Branch = "MECH"
	BranchCIVIL Branch = "CIVIL"
	BranchIT    Branch = "IT"
)

// Branches lists every known branch.
var Branches = []Branch{
	BranchCSE, BranchCSM, BranchCSD, BranchCSC, BranchECE,
	BranchEEE, BranchMECH, BranchCIVIL, BranchIT,
}

// IsValid checks that the branch is known.
func (b Branch) IsValid() bool {
	for _, known := range Branches {
		if b == known {
			return true
		}
	}
	return false
}

// String returns the string representation.
func (b Branch) String() string {
	return string(b)
}

// NewBranch normalizes and validates a branch code.
func NewBranch(value string) (Branch, error) {
	b := Branch(strings.ToUpper(strings.TrimSpace(value)))
	if !b.IsValid() {
		return "", NewDomainError("shared", "NewBranch", ErrInvalidInput, fmt.Sprintf("unknown branch %q", value))
	}
	return b, nil
}

// ═══════════════════════════════════════════════════════════════════════════
// AcademicPeriod Value Object
// ═══════════════════════════════════════════════════════════════════════════

// Academic calendar bounds.
const (
	FirstYear         = 1
	FinalYear         = 4
	SemestersPerYear  = 2
	FinalSemester     = FinalYear * SemestersPerYear
	DefaultSection    = "A"
	maxSectionLength  = 3
	minSemesterNumber = 1
)

// AcademicPeriod is a (year, semester) pair. Semesters are numbered
// 1..8 across the whole programme; year N holds semesters 2N-1 and 2N.
type AcademicPeriod struct {
	Year     int `json:"year"`
	Semester int `json:"semester"`
}

// IsValid checks bounds and that the semester belongs to the year.
func (p AcademicPeriod) IsValid() bool {
	if p.Year < FirstYear || p.Year > FinalYear {
		return false
	}
	if p.Semester < minSemesterNumber || p.Semester > FinalSemester {
		return false
	}
	return YearOfSemester(p.Semester) == p.Year
}

// IsFinal reports whether this is the last semester of the programme.
func (p AcademicPeriod) IsFinal() bool {
	return p.Year == FinalYear && p.Semester == FinalSemester
}

// Next returns the following period. The final period has no successor
// and is returned unchanged.
func (p AcademicPeriod) Next() AcademicPeriod {
	if p.IsFinal() {
		return p
	}
	sem := p.Semester + 1
	return AcademicPeriod{Year: YearOfSemester(sem), Semester: sem}
}

// String renders the period as "Y<year>S<semester>".
func (p AcademicPeriod) String() string {
	return fmt.Sprintf("Y%dS%d", p.Year, p.Semester)
}

// YearOfSemester maps a programme semester (1..8) to its year (1..4).
func YearOfSemester(semester int) int {
	return (semester + SemestersPerYear - 1) / SemestersPerYear
}

// NewAcademicPeriod validates a period. A zero semester defaults to the
// first semester of the year.
func NewAcademicPeriod(year, semester int) (AcademicPeriod, error) {
	if semester == 0 {
		semester = year*SemestersPerYear - 1
	}
	p := AcademicPeriod{Year: year, Semester: semester}
	if !p.IsValid() {
		return AcademicPeriod{}, NewDomainError("shared", "NewAcademicPeriod", ErrValueOutOfRange,
			fmt.Sprintf("invalid academic period year=%d semester=%d", year, semester))
	}
	return p, nil
}

// NormalizeSection uppercases a section and applies the default.
func NormalizeSection(section string) (string, error) {
	s := strings.ToUpper(strings.TrimSpace(section))
	if s == "" {
		return DefaultSection, nil
	}
	if len(s) > maxSectionLength {
		return "", NewDomainError("shared", "NormalizeSection", ErrInvalidInput, "section is too long")
	}
	return s, nil
}

// ═══════════════════════════════════════════════════════════════════════════
// Actor Value Object
// ═══════════════════════════════════════════════════════════════════════════

// Actor identifies the staff member performing an operation.
type Actor struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// String renders the actor for logs and audit trails.
func (a Actor) String() string {
	if a.Email == "" {
		return a.Name
	}
	return fmt.Sprintf("%s <%s>", a.Name, a.Email)
}

// ═══════════════════════════════════════════════════════════════════════════
// Pagination Value Object
// ═══════════════════════════════════════════════════════════════════════════

// Pagination represents pagination parameters.
type Pagination struct {
	Page     int
	PageSize int
}

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Offset returns the offset for database queries.
func (p Pagination) Offset() int {
	if p.Page <= 0 {
		return 0
	}
	return (p.Page - 1) * p.Limit()
}

// Limit returns the limit for database queries.
func (p Pagination) Limit() int {
	if p.PageSize <= 0 {
		return DefaultPageSize
	}
	if p.PageSize > MaxPageSize {
		return MaxPageSize
	}
	return p.PageSize
}

// NewPagination creates a new Pagination with defaults.
func NewPagination(page, pageSize int) Pagination {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	return Pagination{Page: page, PageSize: pageSize}
}

// DefaultPagination returns default pagination.
func DefaultPagination() Pagination {
	return NewPagination(1, DefaultPageSize)
}
