package model

// JobDataMap carries arbitrary key-value data handed to a job's executor at
// fire time, mirroring the source system's JobDataMap.
type JobDataMap map[string]any

// Clone returns a shallow copy, so a caller's JobDataMap can be stored
// without aliasing the caller's map.
func (m JobDataMap) Clone() JobDataMap {
	if m == nil {
		return nil
	}
	out := make(JobDataMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// JobDefinition describes a unit of work the scheduler can trigger.
type JobDefinition struct {
	Key  JobKey
	Type string // names a registered JobExecutor

	Durable                       bool
	PersistJobDataAfterExecution  bool
	ConcurrentExecutionDisallowed bool
	RequestsRecovery              bool

	JobDataMap JobDataMap
}
