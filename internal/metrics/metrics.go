package metrics

import "expvar"

var (
	CyclesExecuted = expvar.NewInt("cycles_executed")
	CycleErrors    = expvar.NewInt("cycle_errors")
	MetaTxExecuted = expvar.NewInt("meta_tx_executed")
	EventsRecorded = expvar.NewInt("events_recorded")
	RecordErrors   = expvar.NewInt("record_errors")
	EventsDropped  = expvar.NewInt("events_dropped")
)
