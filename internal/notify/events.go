package notify

import (
	"fmt"

	"github.com/alanyoungcy/castbet/internal/domain"
)

// FromEvent builds the operator alert for a committed event. Only disputes,
// arbitration, reopenings, voids and unchallenged finalizations produce one.
func FromEvent(ev domain.Event, m domain.MarketView) (Message, bool) {
	msg := Message{
		Fields: []Field{
			{Name: "Market", Value: m.ID},
			{Name: "Question", Value: m.Question},
			{Name: "Caller", Value: ev.Caller.Hex()},
		},
	}
	switch ev.Type {
	case domain.EventOutcomeChallenged:
		msg.Title = "Outcome challenged"
		msg.Severity = SeverityAlert
		msg.Body = "A proposal was disputed and needs arbitration."
		if m.Proposal != nil {
			msg.Fields = append(msg.Fields,
				Field{Name: "Proposed", Value: string(m.Proposal.Outcome)},
				Field{Name: "Proposal bond", Value: m.Proposal.Bond.Display()},
			)
		}
		if m.Challenge != nil {
			msg.Fields = append(msg.Fields, Field{Name: "Challenge bond", Value: m.Challenge.Bond.Display()})
		}
	case domain.EventDisputeResolved:
		msg.Title = "Dispute resolved"
		msg.Severity = SeverityWarn
		msg.Body = fmt.Sprintf("Arbitration settled the market as %s.", m.Outcome)
	case domain.EventMarketReopened:
		msg.Title = "Market reopened"
		msg.Severity = SeverityWarn
		msg.Body = fmt.Sprintf("Betting reopened until %s.", m.Deadline.UTC().Format("2006-01-02 15:04 MST"))
	case domain.EventMarketVoided:
		msg.Title = "Market voided"
		msg.Severity = SeverityAlert
		msg.Body = m.VoidReason
	case domain.EventOutcomeFinalized:
		msg.Title = "Outcome finalized"
		msg.Severity = SeverityInfo
		msg.Body = fmt.Sprintf("Unchallenged result %s is final.", m.Outcome)
	default:
		return Message{}, false
	}
	if m.Settlement != nil {
		msg.Fields = append(msg.Fields,
			Field{Name: "Pool", Value: m.Settlement.Pool.Display()},
			Field{Name: "Reserved", Value: m.Settlement.Reserved.Display()},
		)
	}
	return msg, true
}
