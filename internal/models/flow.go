package models

// Flow is a RapidPro flow as returned by /api/v2/flows.json.
type Flow struct {
	UUID     string       `json:"uuid"`
	Name     string       `json:"name"`
	Archived bool         `json:"archived,omitempty"`
	Results  []FlowResult `json:"results,omitempty"`
}

// FlowResult is a result definition declared by a flow. Each run of the flow
// stores its answer under Key in the run's values.
type FlowResult struct {
	Key        string   `json:"key"`
	Name       string   `json:"name"`
	Categories []string `json:"categories,omitempty"`
}
