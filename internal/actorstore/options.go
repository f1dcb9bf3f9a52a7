package actorstore

// Caller-facing option records for the storage verbs. Each converts to the
// narrower cache-contract options after normalization; allowConcurrency is
// consumed at the gate-admission step and never reaches the engine.

// GetOptions configures get and getMultiple.
type GetOptions struct {
	AllowConcurrency bool
	NoCache          bool
}

func (o GetOptions) read() ReadOptions { return ReadOptions{NoCache: o.NoCache} }

// ListOptions configures list. Start and Prefix may combine; Start and
// StartAfter conflict. Limit, when set, must be positive.
type ListOptions struct {
	Start      string
	StartAfter string
	End        string
	Prefix     string
	Reverse    bool
	Limit      int

	AllowConcurrency bool
	NoCache          bool
}

func (o ListOptions) read() ReadOptions { return ReadOptions{NoCache: o.NoCache} }

// PutOptions configures put, delete, and deleteAll.
type PutOptions struct {
	AllowConcurrency bool
	AllowUnconfirmed bool
	NoCache          bool
}

func (o PutOptions) write() WriteOptions {
	return WriteOptions{AllowUnconfirmed: o.AllowUnconfirmed, NoCache: o.NoCache}
}

// GetAlarmOptions configures getAlarm.
type GetAlarmOptions struct {
	AllowConcurrency bool
}

func (o GetAlarmOptions) read() ReadOptions { return ReadOptions{} }

// SetAlarmOptions configures setAlarm and deleteAlarm. Alarm writes never
// skip the cache; the alarm drives scheduling correctness.
type SetAlarmOptions struct {
	AllowConcurrency bool
	AllowUnconfirmed bool
}

func (o SetAlarmOptions) write() WriteOptions {
	return WriteOptions{AllowUnconfirmed: o.AllowUnconfirmed}
}
