package registry

import "slices"

// Status is the readiness record of one publisher.
// Ready is the conjunction of every check flag.
type Status struct {
	Publisher     string    `json:"publisher"`
	Path          string    `json:"path"`
	Exists        bool      `json:"exists"`
	IndexFile     bool      `json:"index"`
	MetaFile      bool      `json:"db"`
	ManifestFile  bool      `json:"manifest"`
	IndexLoaded   bool      `json:"dense_loaded"`
	MetaLoaded    bool      `json:"db_loaded"`
	DimOK         bool      `json:"dim_ok"`
	Ready         bool      `json:"ready"`
	IndexDim      int       `json:"ix_dim"`
	EmbedDim      int       `json:"embed_dim"`
	Missing       []string  `json:"missing"`
	Reasons       []string  `json:"reasons"`
	FailureReason string    `json:"failure_reason,omitempty"`
	Manifest      *Manifest `json:"manifest_info,omitempty"`
}

func (s Status) finish() Status {
	s.Ready = s.Exists && s.IndexFile && s.MetaFile && s.ManifestFile &&
		s.IndexLoaded && s.MetaLoaded && s.DimOK
	if s.Ready {
		s.FailureReason = ""
		return s
	}
	if s.FailureReason == "" && len(s.Reasons) > 0 {
		s.FailureReason = s.Reasons[0]
	}
	if s.FailureReason != "" && !slices.Contains(s.Reasons, s.FailureReason) {
		s.Reasons = append(s.Reasons, s.FailureReason)
	}
	if s.Missing == nil {
		s.Missing = []string{}
	}
	if s.Reasons == nil {
		s.Reasons = []string{}
	}
	return s
}

// Report is the startup readiness summary.
type Report struct {
	Rows   []Status `json:"rows"`
	Ready  []string `json:"ok"`
	Failed []string `json:"fail"`
}

// Report lists every known publisher in configured order.
func (e *Engine) Report() Report {
	r := Report{
		Rows:   make([]Status, 0, len(e.order)),
		Ready:  []string{},
		Failed: []string{},
	}
	for _, name := range e.order {
		st := e.status[name]
		r.Rows = append(r.Rows, st)
		if st.Ready {
			r.Ready = append(r.Ready, name)
		} else {
			r.Failed = append(r.Failed, name)
		}
	}
	return r
}
