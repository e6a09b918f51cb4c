package payslip

import (
	"context"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/payroll"
)

// =============================================================================
// INBOUND RECORDS - Read-only data owned by other subsystems
// =============================================================================

// Employee is the employee profile as seen by payroll.
type Employee struct {
	ID           string             `json:"id"`
	Name         string             `json:"name"`
	ContractType string             `json:"contractType"`
	DepartmentID string             `json:"departmentId,omitempty"`
	PositionID   string             `json:"positionId,omitempty"`
	PayGradeID   string             `json:"payGradeId"`
	PayTypeID    string             `json:"payTypeId,omitempty"`
	AllowanceIDs []string           `json:"allowanceIds,omitempty"`
	BaseSalary   decimal.Decimal    `json:"baseSalary"`
	HireDate     *generic.TimePoint `json:"hireDate,omitempty"`
	Status       string             `json:"status"`
}

// Active reports whether the employee is still employed.
func (e Employee) Active() bool { return e.Status == "" || e.Status == "active" }

// AttendanceFeed carries the period's attendance figures and the penalty
// amounts already priced by the time-management subsystem.
type AttendanceFeed struct {
	AbsentDays         int             `json:"absentDays"`
	LateDays           int             `json:"lateDays"`
	OvertimeHours      decimal.Decimal `json:"overtimeHours"`
	UnpaidDaysAmount   decimal.Decimal `json:"unpaidDaysAmount"`
	MissingHoursAmount decimal.Decimal `json:"missingHoursAmount"`
	MisconductAmount   decimal.Decimal `json:"misconductAmount"`
}

// LeaveFeed carries leave balances relevant to encashment.
type LeaveFeed struct {
	UnusedLeaveDays    decimal.Decimal `json:"unusedLeaveDays"`
	EncashmentEligible bool            `json:"encashmentEligible"`
	EncashmentAmount   decimal.Decimal `json:"encashmentAmount"`
}

// OffboardingPacket is produced when an employee leaves.
type OffboardingPacket struct {
	OffboardingID   string                  `json:"offboardingId"`
	EmployeeID      string                  `json:"employeeId"`
	TerminationType payroll.TerminationType `json:"terminationType"`
	TerminationDate generic.TimePoint       `json:"terminationDate"`
	YearsOfService  decimal.Decimal         `json:"yearsOfService"`
	HRClearance     payroll.ClearanceStatus `json:"hrClearanceStatus"`
}

// Directory reads employee data and feeds.
type Directory interface {
	Employee(ctx context.Context, id string) (Employee, error)
	Employees(ctx context.Context) ([]Employee, error)
	Attendance(ctx context.Context, employeeID string, period generic.PayPeriod) (AttendanceFeed, error)
	Leave(ctx context.Context, employeeID string, period generic.PayPeriod) (LeaveFeed, error)
	Offboarding(ctx context.Context, employeeID string) (*OffboardingPacket, error)
}

// =============================================================================
// MEMORY DIRECTORY
// =============================================================================

// MemoryDirectory is an in-memory Directory. It also answers HR clearance
// lookups for termination benefits and reports which employees still point
// at a pay grade, pay type or allowance.
type MemoryDirectory struct {
	mu          sync.RWMutex
	employees   map[string]Employee
	attendance  map[feedKey]AttendanceFeed
	leave       map[feedKey]LeaveFeed
	offboarding map[string]OffboardingPacket
}

type feedKey struct {
	EmployeeID string
	CycleID    string
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		employees:   make(map[string]Employee),
		attendance:  make(map[feedKey]AttendanceFeed),
		leave:       make(map[feedKey]LeaveFeed),
		offboarding: make(map[string]OffboardingPacket),
	}
}

func (d *MemoryDirectory) PutEmployee(e Employee) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.employees[e.ID] = e
}

func (d *MemoryDirectory) PutAttendance(employeeID, cycleID string, f AttendanceFeed) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.attendance[feedKey{employeeID, cycleID}] = f
}

func (d *MemoryDirectory) PutLeave(employeeID, cycleID string, f LeaveFeed) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.leave[feedKey{employeeID, cycleID}] = f
}

func (d *MemoryDirectory) PutOffboarding(p OffboardingPacket) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.offboarding[p.EmployeeID] = p
}

// Reset drops everything.
func (d *MemoryDirectory) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.employees = make(map[string]Employee)
	d.attendance = make(map[feedKey]AttendanceFeed)
	d.leave = make(map[feedKey]LeaveFeed)
	d.offboarding = make(map[string]OffboardingPacket)
}

func (d *MemoryDirectory) Employee(_ context.Context, id string) (Employee, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.employees[id]
	if !ok {
		return Employee{}, generic.NotFound("employee", id)
	}
	return e, nil
}

// Employees returns all employees ordered by id.
func (d *MemoryDirectory) Employees(_ context.Context) ([]Employee, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Employee, 0, len(d.employees))
	for _, e := range d.employees {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Attendance returns a zero feed when nothing was recorded.
func (d *MemoryDirectory) Attendance(_ context.Context, employeeID string, period generic.PayPeriod) (AttendanceFeed, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.attendance[feedKey{employeeID, period.CycleID}], nil
}

func (d *MemoryDirectory) Leave(_ context.Context, employeeID string, period generic.PayPeriod) (LeaveFeed, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.leave[feedKey{employeeID, period.CycleID}], nil
}

func (d *MemoryDirectory) Offboarding(_ context.Context, employeeID string) (*OffboardingPacket, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.offboarding[employeeID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

// ClearanceStatus implements payroll.ClearanceLookup.
func (d *MemoryDirectory) ClearanceStatus(offboardingID string) (payroll.ClearanceStatus, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, p := range d.offboarding {
		if p.OffboardingID == offboardingID {
			return p.HRClearance, true
		}
	}
	return "", false
}

// ReferencesTo implements generic.ReferenceResolver.
func (d *MemoryDirectory) ReferencesTo(_ context.Context, e *generic.Entity) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	id := string(e.ID)
	var refs []string
	for _, emp := range d.employees {
		switch e.Kind {
		case payroll.KindPayGrade:
			if emp.PayGradeID == id {
				refs = append(refs, "employee "+emp.ID)
			}
		case payroll.KindPayType:
			if emp.PayTypeID == id {
				refs = append(refs, "employee "+emp.ID)
			}
		case payroll.KindAllowance:
			for _, a := range emp.AllowanceIDs {
				if a == id {
					refs = append(refs, "employee "+emp.ID)
				}
			}
		}
	}
	sort.Strings(refs)
	return refs, nil
}
