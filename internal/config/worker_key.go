package config

type WorkerKeyStruct struct {
	// PersistProctorEventsQueue feeds the audit trail of proctoring reports.
	PersistProctorEventsQueue string
	// RankRecomputeQueue holds exam IDs whose inline rank recomputation failed.
	RankRecomputeQueue string
}

var WorkerKey = &WorkerKeyStruct{
	PersistProctorEventsQueue: "persist_proctor_events_queue",
	RankRecomputeQueue:        "rank_recompute_queue",
}
