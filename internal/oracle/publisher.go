package oracle

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"github.com/Angleito/nyxusd-sub000/internal/engine"
)

const (
	// EventStream holds outbound CDP lifecycle events.
	EventStream = "NYX_CDP_EVENTS"

	// EventSubjects is the outbound wildcard:
	// nyx.cdp.events.{event_type}.{collateral_type}.
	EventSubjects = "nyx.cdp.events.>"
)

// BurnEvent is the outbound record of one executed burn. Downstream
// consumers (keepers, dashboards) key off the subject; the payload carries
// the full allocation.
type BurnEvent struct {
	CDPID          string `json:"cdp_id"`
	Owner          string `json:"owner"`
	CollateralType string `json:"collateral_type"`
	FeesPaid       string `json:"fees_paid"`
	PrincipalPaid  string `json:"principal_paid"`
	RemainingDebt  string `json:"remaining_debt"`
	NewState       string `json:"new_state"`
	Closed         bool   `json:"closed"`
	ExecutedAtMs   int64  `json:"executed_at_ms"`
}

// EventPublisher publishes burn and lifecycle events after persistence is
// confirmed. Publish failures are non-fatal; consumers can read the audit
// table directly.
type EventPublisher struct {
	js  jetstream.JetStream
	log zerolog.Logger
}

func NewEventPublisher(js jetstream.JetStream, log zerolog.Logger) *EventPublisher {
	return &EventPublisher{js: js, log: log}
}

// PublishBurn emits a burn event to nyx.cdp.events.burn.{collateral_type}.
func (p *EventPublisher) PublishBurn(ctx context.Context, res engine.Result) {
	evt := BurnEvent{
		CDPID:          res.CDP.ID.String(),
		Owner:          res.CDP.Owner,
		CollateralType: res.CDP.CollateralType,
		FeesPaid:       res.FeesPaid.String(),
		PrincipalPaid:  res.PrincipalPaid.String(),
		RemainingDebt:  res.RemainingDebt.String(),
		NewState:       res.CDP.State.Kind.String(),
		Closed:         res.Closed,
		ExecutedAtMs:   int64(res.CDP.UpdatedAt),
	}

	eventType := "burn"
	if res.Closed {
		eventType = "closed"
	}
	subject := fmt.Sprintf("nyx.cdp.events.%s.%s", eventType, evt.CollateralType)

	data, err := json.Marshal(evt)
	if err != nil {
		p.log.Warn().Err(err).Str("cdp_id", evt.CDPID).Msg("marshal burn event")
		return
	}
	if _, err := p.js.Publish(ctx, subject, data); err != nil {
		p.log.Warn().Err(err).Str("subject", subject).Str("cdp_id", evt.CDPID).Msg("outbound publish failed")
	}
}
