package payslip

import (
	"fmt"
	"io"

	"github.com/jung-kurt/gofpdf"
	"github.com/shopspring/decimal"
)

// RenderPDF writes a one-page A4 payslip.
func RenderPDF(w io.Writer, p *Payslip, employeeName string) error {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("Payslip "+p.Period.Label(), false)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 16)
	pdf.Cell(40, 10, "Payslip")
	pdf.Ln(12)

	pdf.SetFont("Helvetica", "", 11)
	name := employeeName
	if name == "" {
		name = p.EmployeeID
	}
	pdf.Cell(0, 7, fmt.Sprintf("Employee: %s (%s)", name, p.EmployeeID))
	pdf.Ln(6)
	pdf.Cell(0, 7, fmt.Sprintf("Period: %s to %s (%s)", p.Period.Start, p.Period.End, p.Period.Label()))
	pdf.Ln(6)
	if p.PayDate != nil {
		pdf.Cell(0, 7, fmt.Sprintf("Pay date: %s", p.PayDate))
		pdf.Ln(6)
	}
	pdf.Cell(0, 7, fmt.Sprintf("Status: %s", p.Status))
	pdf.Ln(10)

	b := p.Breakdown
	type line struct {
		label  string
		amount decimal.Decimal
	}
	section := func(title string, rows []line) {
		pdf.SetFont("Helvetica", "B", 12)
		pdf.Cell(0, 8, title)
		pdf.Ln(8)
		pdf.SetFont("Helvetica", "", 11)
		for _, row := range rows {
			pdf.CellFormat(110, 7, row.label, "", 0, "L", false, 0, "")
			pdf.CellFormat(50, 7, money(row.amount, p.Currency), "", 1, "R", false, 0, "")
		}
		pdf.Ln(3)
	}
	section("Earnings", []line{
		{"Base salary", b.BaseSalary},
		{"Allowances", b.TotalAllowances},
		{"Gross salary", b.GrossSalary},
		{"Bonuses", b.TotalBonuses},
		{"Leave compensation", b.LeaveCompensation},
		{"Benefits", b.TotalBenefits},
		{"Total earnings", b.TotalEarnings},
	})
	section("Deductions", []line{
		{"Tax", b.TaxDeduction},
		{"Insurance", b.InsuranceDeduction},
		{"Other deductions", b.OtherDeductions},
		{"Penalties", b.TotalPenalties},
		{"Total deductions", b.TotalDeductions},
	})

	pdf.SetFont("Helvetica", "B", 13)
	pdf.CellFormat(110, 9, "Net salary", "T", 0, "L", false, 0, "")
	pdf.CellFormat(50, 9, money(b.NetSalary, p.Currency), "T", 1, "R", false, 0, "")

	if len(p.Warnings) > 0 {
		pdf.Ln(4)
		pdf.SetFont("Helvetica", "I", 9)
		for _, warn := range p.Warnings {
			pdf.MultiCell(0, 5, "Note: "+warn.Message, "", "L", false)
		}
	}

	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("failed to render payslip %s: %w", p.ID, err)
	}
	return nil
}

func money(d decimal.Decimal, currency string) string {
	if currency == "" {
		return d.StringFixed(2)
	}
	return d.StringFixed(2) + " " + currency
}
