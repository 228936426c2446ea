package paygate

import (
	"fmt"
	"io"
	"time"

	"github.com/go-pdf/fpdf"
	"github.com/shopspring/decimal"
)

var statementCols = []struct {
	title string
	width float64
	align string
}{
	{"Charge ID", 45, "L"},
	{"Date (UTC)", 40, "L"},
	{"Operation", 25, "L"},
	{"Price", 25, "R"},
	{"Amount", 45, "R"},
}

// WriteStatement renders the account's charge history as a PDF.
func WriteStatement(w io.Writer, acct *Account, charges []Charge) error {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("Account statement "+acct.ID, false)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 16)
	pdf.CellFormat(0, 10, "Account statement", "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 10)
	pdf.CellFormat(0, 6, "Account: "+acct.ID, "", 1, "L", false, 0, "")
	pdf.CellFormat(0, 6, "Deposit address: "+acct.DepositAddress, "", 1, "L", false, 0, "")
	pdf.CellFormat(0, 6, "Confirmed deposits: "+acct.ConfirmedSum.StringFixed(CryptoPlaces), "", 1, "L", false, 0, "")
	pdf.CellFormat(0, 6, "Available: "+acct.Available().StringFixed(CryptoPlaces), "", 1, "L", false, 0, "")
	pdf.CellFormat(0, 6, "Generated: "+time.Now().UTC().Format(time.RFC3339), "", 1, "L", false, 0, "")
	pdf.Ln(4)

	pdf.SetFont("Helvetica", "B", 10)
	pdf.SetFillColor(230, 230, 230)
	for _, c := range statementCols {
		pdf.CellFormat(c.width, 7, c.title, "1", 0, "C", true, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Helvetica", "", 9)
	total := decimal.Zero
	for _, ch := range charges {
		row := []string{
			ch.ID.String(),
			ch.CreatedAt.UTC().Format("2006-01-02 15:04"),
			ch.Kind,
			ch.FiatPrice.StringFixed(2),
			ch.Amount.StringFixed(CryptoPlaces),
		}
		for i, c := range statementCols {
			pdf.CellFormat(c.width, 6, row[i], "1", 0, c.align, false, 0, "")
		}
		pdf.Ln(-1)
		total = total.Add(ch.Amount)
	}

	pdf.SetFont("Helvetica", "B", 10)
	pdf.CellFormat(135, 7, fmt.Sprintf("Total (%d charges)", len(charges)), "1", 0, "R", false, 0, "")
	pdf.CellFormat(45, 7, total.StringFixed(CryptoPlaces), "1", 1, "R", false, 0, "")

	return pdf.Output(w)
}
