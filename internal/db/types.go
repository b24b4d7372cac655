package db

// Settings describe the engine configuration that produced the cached
// evaluations. A zero value means no run has recorded them yet.
type Settings struct {
	EngineName   string `db:"engine_name"`
	TimeBudgetMS int    `db:"time_budget_ms"`
}

const (
	RunRunning = "running"
	RunDone    = "done"
	RunFailed  = "failed"
)

type Run struct {
	ID           string  `db:"id" json:"id"`
	StartedAt    string  `db:"started_at" json:"started_at"`
	FinishedAt   string  `db:"finished_at" json:"finished_at,omitempty"`
	Period       string  `db:"period" json:"period"`
	Color        string  `db:"color" json:"color"`
	Engine       string  `db:"engine" json:"engine"`
	TimeBudgetMS int     `db:"time_budget_ms" json:"time_budget_ms"`
	Status       string  `db:"status" json:"status"`
	Games        int64   `db:"games" json:"games"`
	Nodes        int     `db:"nodes" json:"nodes"`
	Leaves       int     `db:"leaves" json:"leaves"`
	Evaluated    int     `db:"evaluated" json:"evaluated"`
	CacheHits    int     `db:"cache_hits" json:"cache_hits"`
	Failed       int     `db:"failed" json:"failed"`
	RootScore    float64 `db:"root_score" json:"root_score"`
	Line         string  `db:"line" json:"line"`
	Error        string  `db:"error" json:"error,omitempty"`
}

// RunResult is what a finished run writes back.
type RunResult struct {
	Status    string
	Games     int64
	Nodes     int
	Leaves    int
	Evaluated int
	CacheHits int
	Failed    int
	RootScore float64
	Line      string
	Error     string
	TreeJSON  []byte
}
