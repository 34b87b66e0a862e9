package billing

import "github.com/shopspring/decimal"

// DeriveStatus maps (balance, amountPaid) to a bill status. A
// non-positive balance means paid in full; anything paid against a
// remaining balance is a partial payment.
func DeriveStatus(balance, amountPaid decimal.Decimal) BillStatus {
	switch {
	case balance.Sign() <= 0:
		return StatusPaid
	case amountPaid.Sign() > 0:
		return StatusPartiallyPaid
	default:
		return StatusUnpaid
	}
}

// Reconcile recomputes a bill's derived fields from its fixed charge,
// line items and payments. It is idempotent: running it twice over the
// same inputs yields the same bill. All monetary results are rounded to
// two decimal places before they are persisted.
func Reconcile(bill Bill, lines []LineItem, payments []Payment) Bill {
	total := bill.FixedCharge
	for _, li := range lines {
		total = total.Add(li.TotalPrice)
	}
	paid := decimal.Zero
	for _, p := range payments {
		paid = paid.Add(p.Amount)
	}
	bill.Total = total.Round(2)
	bill.AmountPaid = paid.Round(2)
	outstanding := bill.Total.Sub(bill.AmountPaid).Round(2)
	bill.Status = DeriveStatus(outstanding, bill.AmountPaid)
	// A charge dropped below what was already paid floors at zero; the
	// bill never reports a negative balance.
	if outstanding.Sign() < 0 {
		outstanding = decimal.Zero
	}
	bill.Balance = outstanding
	return bill
}

// linePrice computes a line item's extended price at two decimals.
func linePrice(unitPrice decimal.Decimal, quantity int64) decimal.Decimal {
	return unitPrice.Mul(decimal.NewFromInt(quantity)).Round(2)
}
