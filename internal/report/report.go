// Package report renders the ledger state as console tables for operators.
package report

import (
	"fmt"
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"

	"github.com/alanyoungcy/castbet/internal/domain"
	"github.com/alanyoungcy/castbet/internal/ledger"
	"github.com/alanyoungcy/castbet/internal/service"
	"github.com/alanyoungcy/castbet/internal/settlement"
)

// Source is the read side a report is built from. *service.LedgerService
// implements it.
type Source interface {
	Markets(filter domain.MarketFilter) []domain.MarketView
	AllBalances() []service.AccountBalance
	House() ledger.Amount
	Solvency() (settlement.SolvencyReport, error)
	LastSeq() uint64
}

var _ Source = (*service.LedgerService)(nil)

// Printer writes report tables to out.
type Printer struct {
	out io.Writer
}

// NewPrinter creates a Printer.
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

// Print writes the full report: markets, balances and the solvency summary.
// It returns an error when the ledger fails its solvency check.
func (p *Printer) Print(src Source) error {
	fmt.Fprintf(p.out, "\ncastbet ledger at seq %d\n\n", src.LastSeq())

	if err := p.Markets(src.Markets(domain.MarketFilter{})); err != nil {
		return err
	}
	if err := p.Balances(src.AllBalances(), src.House()); err != nil {
		return err
	}

	r, err := src.Solvency()
	if err != nil {
		return fmt.Errorf("report: solvency: %w", err)
	}
	p.Solvency(r)
	if !r.OK() {
		return fmt.Errorf("report: ledger is not solvent: %d problem(s)", len(r.Problems))
	}
	return nil
}

// Markets prints one row per market.
func (p *Printer) Markets(views []domain.MarketView) error {
	fmt.Fprintf(p.out, "MARKETS (%d)\n", len(views))
	if len(views) == 0 {
		fmt.Fprintln(p.out, "  none")
		return nil
	}

	table := tablewriter.NewWriter(p.out)
	table.Header("ID", "State", "Outcome", "Yes pool", "No pool", "Escrow", "Bets", "Paid", "Deadline")
	for _, v := range views {
		if err := table.Append(
			v.ID,
			string(v.State),
			outcomeLabel(v),
			v.TotalYes.Display(),
			v.TotalNo.Display(),
			v.Escrow.Display(),
			strconv.Itoa(v.PositionCount),
			paidLabel(v),
			v.Deadline.UTC().Format("2006-01-02 15:04"),
		); err != nil {
			return fmt.Errorf("report: markets row %s: %w", v.ID, err)
		}
	}
	if err := table.Render(); err != nil {
		return fmt.Errorf("report: render markets: %w", err)
	}
	fmt.Fprintln(p.out)
	return nil
}

// Balances prints every account with credit plus the house row.
func (p *Printer) Balances(accounts []service.AccountBalance, house ledger.Amount) error {
	fmt.Fprintf(p.out, "BALANCES (%d accounts)\n", len(accounts))

	table := tablewriter.NewWriter(p.out)
	table.Header("Account", "Creator fees", "Referral", "Bonds")
	for _, a := range accounts {
		if err := table.Append(
			a.Address.Hex(),
			a.Balances.CreatorFees.Display(),
			a.Balances.ReferralRewards.Display(),
			a.Balances.Bonds.Display(),
		); err != nil {
			return fmt.Errorf("report: balances row: %w", err)
		}
	}
	if err := table.Append("house", house.Display(), "", ""); err != nil {
		return fmt.Errorf("report: balances row: %w", err)
	}
	if err := table.Render(); err != nil {
		return fmt.Errorf("report: render balances: %w", err)
	}
	fmt.Fprintln(p.out)
	return nil
}

// Solvency prints the conservation totals.
func (p *Printer) Solvency(r settlement.SolvencyReport) {
	fmt.Fprintln(p.out, "SOLVENCY")
	fmt.Fprintf(p.out, "  Inflow:    %s\n", r.Inflow.Display())
	fmt.Fprintf(p.out, "  Outflow:   %s\n", r.Outflow.Display())
	fmt.Fprintf(p.out, "  Escrow:    %s\n", r.Escrow.Display())
	fmt.Fprintf(p.out, "  Balances:  %s\n", r.Balances.Display())
	fmt.Fprintf(p.out, "  House:     %s\n", r.House.Display())
	fmt.Fprintf(p.out, "  Markets:   %d\n", r.Markets)
	if r.OK() {
		fmt.Fprintln(p.out, "  Status:    OK")
		return
	}
	fmt.Fprintln(p.out, "  Status:    FAILED")
	for _, problem := range r.Problems {
		fmt.Fprintf(p.out, "    - %s\n", problem)
	}
}

func outcomeLabel(v domain.MarketView) string {
	switch {
	case v.Void:
		return "void"
	case v.Outcome != "":
		return string(v.Outcome)
	default:
		return "-"
	}
}

func paidLabel(v domain.MarketView) string {
	if v.PaidOut {
		return "yes"
	}
	if v.Cursor > 0 {
		return fmt.Sprintf("%d/%d", v.Cursor, v.PositionCount)
	}
	return "no"
}
