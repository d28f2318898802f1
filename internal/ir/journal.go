package ir

// NOTE: These are journal records, not part of the configuration format.
// Seq values come from the engine's logical clock, never from wall time.

// ChangeOp names an external input applied to an engine.
type ChangeOp string

const (
	OpSetValue     ChangeOp = "setValue"
	OpSetExternal  ChangeOp = "setExternal"
	OpAddItem      ChangeOp = "addItem"
	OpRemoveItem   ChangeOp = "removeItem"
	OpSubmit       ChangeOp = "submit"
	OpFinishSubmit ChangeOp = "finishSubmit"
	OpReset        ChangeOp = "reset"
	OpClear        ChangeOp = "clear"
	OpFlush        ChangeOp = "flush"
	OpRefresh      ChangeOp = "refresh"
	// OpTimer records a debounce timer fire; Key is the entry instance id.
	OpTimer ChangeOp = "timer"
)

// Change is one recorded external input. Path is set for field operations,
// Key for external data, Index for removeItem.
type Change struct {
	Seq   int64    `json:"seq"`
	Op    ChangeOp `json:"op"`
	Path  string   `json:"path,omitempty"`
	Key   string   `json:"key,omitempty"`
	Value any      `json:"value,omitempty"`
	Index int      `json:"index,omitempty"`
}

// Session identifies one engine lifetime in the journal.
type Session struct {
	ID         string `json:"id"`
	ConfigHash string `json:"config_hash"`
	// Initial is the form value the session started from.
	Initial  map[string]any `json:"initial,omitempty"`
	External map[string]any `json:"external,omitempty"`
}

// Submission is a recorded submit. ValueHash lets replay verify that the
// same inputs produce the same value.
type Submission struct {
	ID        string              `json:"id"`
	Seq       int64               `json:"seq"`
	Valid     bool                `json:"valid"`
	ValueHash string              `json:"value_hash"`
	Value     map[string]any      `json:"value"`
	Errors    map[string][]string `json:"errors,omitempty"`
}

// Diagnostic is a recorded runtime diagnostic.
type Diagnostic struct {
	Seq       int64  `json:"seq"`
	Code      string `json:"code"`
	FieldPath string `json:"field_path,omitempty"`
	EntryID   string `json:"entry_id,omitempty"`
	Message   string `json:"message"`
}
