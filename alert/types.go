// Package alert evaluates market events against per-user configuration and
// emits structured Alert records: cooldown/escalation state machine,
// multi-metric threshold evaluation, and tiered big-order detection.
package alert

import (
	"time"

	"github.com/coinwhistle/sentinel/common"
)

// Data is the per-family payload attached to an Alert. Render functions
// pattern-match on the concrete type; exactly one variant is populated per
// AlertType family.
type Data interface {
	isAlertData()
}

// PriceData backs PRICE_PUMP / PRICE_DUMP alerts. Price and the 24h
// high/low let the boundary layer render a "where in today's range"
// position without another market lookup.
type PriceData struct {
	ChangePercent  float64
	HorizonMinutes int
	Price          float64
	High24h        float64
	Low24h         float64
}

func (PriceData) isAlertData() {}

// VolumeData backs VOLUME_SPIKE alerts.
type VolumeData struct {
	VolumeRatio float64
}

func (VolumeData) isAlertData() {}

// SpreadData backs SPREAD_HIGH / SPREAD_LOW alerts.
type SpreadData struct {
	SpreadPercent float64
	SpotPrice     float64
	FuturesPrice  float64
}

func (SpreadData) isAlertData() {}

// FundingData backs FUNDING_HIGH / FUNDING_LOW alerts.
type FundingData struct {
	FundingRatePercent float64
}

func (FundingData) isAlertData() {}

// BigOrderData backs BIG_BID_ORDER / BIG_ASK_ORDER alerts.
type BigOrderData struct {
	Notional              float64
	Turnover24h           float64
	PriceDeviationPercent float64
	RestingPrice          float64
}

func (BigOrderData) isAlertData() {}

// Alert is one evaluated firing.
type Alert struct {
	ID    string
	Type  common.AlertType
	Level common.AlertLevel

	Symbol string
	Market common.MarketType

	Message string
	Data    Data

	TargetUserID string
	Status       common.AlertStatus

	SentCount int
	LastSent  time.Time

	ConfirmedAt time.Time

	Timestamp time.Time

	IsEscalation bool
}

// Sink receives every alert the engine fires, paired with the user it fired
// for. The dispatcher implements this interface.
type Sink interface {
	OnAlert(a *Alert, userID string)
}

// Stats summarizes engine-wide counters for observability.
type Stats struct {
	TotalAlerts     int64
	EscalationCount int64
	BigOrderAlerts  int64
}
