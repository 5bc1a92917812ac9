package trade

import "github.com/quantfold/fms-engine/internal/orders"

// NoopBroker satisfies Broker for replay and tests; the manager's own
// price-crossing proxies do all the work.
type NoopBroker struct{}

func (NoopBroker) Place(p orders.Proposal) error                       { return nil }
func (NoopBroker) UpdateBracket(id string, stop, target float64) error { return nil }
func (NoopBroker) CancelEntry(id string) error                         { return nil }
