package ledger

import (
	"time"

	"github.com/rs/zerolog"
)

// Options carries the collaborators shared by the ledger services.
// Zero fields take defaults.
type Options struct {
	Now          func() time.Time // default time.Now
	Location     *time.Location   // bar timezone, default time.Local
	Logger       zerolog.Logger   // default disabled
	Recorder     Recorder         // default no-op
	PasswordCost int              // bcrypt cost, default bcrypt.DefaultCost
}

func (o Options) withDefaults() Options {
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Location == nil {
		o.Location = time.Local
	}
	if o.Recorder == nil {
		o.Recorder = NopRecorder{}
	}
	return o
}

// Recorder receives operational events. metrics.Collector implements it
// with Prometheus counters.
type Recorder interface {
	TransactionCommitted(kind TransactionKind)
	PurchaseDenied(reason DenialReason)
	ObserveOperation(op string, err error, elapsed time.Duration)
}

// NopRecorder discards every event.
type NopRecorder struct{}

func (NopRecorder) TransactionCommitted(TransactionKind)          {}
func (NopRecorder) PurchaseDenied(DenialReason)                   {}
func (NopRecorder) ObserveOperation(string, error, time.Duration) {}
