package logg

const (
	Layer     = "layer"
	Operation = "operation"
	RequestID = "request_id"
	URL       = "url"
	Selector  = "selector"
	Target    = "target"
	Frame     = "frame"
	Status    = "status"
	Phase     = "phase"
)
