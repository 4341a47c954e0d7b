package translator

// HostOutcome holds the per-host counters accumulated over a run.
type HostOutcome struct {
	OK       int `json:"ok"`
	Changed  int `json:"changed"`
	Failures int `json:"failures"`
	Skipped  int `json:"skipped"`
	Rescued  int `json:"rescued"`
	Ignored  int `json:"ignored"`
}

// IsZero reports whether no counter has been incremented.
func (h HostOutcome) IsZero() bool {
	return h == HostOutcome{}
}

// OutcomeTable maps host identifiers to their outcome counters.
// Entries are created lazily on first use and counters only ever increase.
type OutcomeTable struct {
	hosts map[string]*HostOutcome
	order []string
}

// NewOutcomeTable creates an empty outcome table.
func NewOutcomeTable() *OutcomeTable {
	return &OutcomeTable{hosts: make(map[string]*HostOutcome)}
}

func (t *OutcomeTable) entry(host string) *HostOutcome {
	h, ok := t.hosts[host]
	if !ok {
		h = &HostOutcome{}
		t.hosts[host] = h
		t.order = append(t.order, host)
	}
	return h
}

// RecordSuccess counts a successful module completion on host.
func (t *OutcomeTable) RecordSuccess(host string, changed bool) {
	h := t.entry(host)
	h.OK++
	if changed {
		h.Changed++
	}
}

// RecordFailure counts a failed module completion on host.
// Every failure is also counted as ignored.
func (t *OutcomeTable) RecordFailure(host string) {
	h := t.entry(host)
	h.Failures++
	h.Ignored++
}

// Get returns a copy of host's counters.
func (t *OutcomeTable) Get(host string) (HostOutcome, bool) {
	h, ok := t.hosts[host]
	if !ok {
		return HostOutcome{}, false
	}
	return *h, true
}

// Hosts returns the host identifiers in first-seen order.
func (t *OutcomeTable) Hosts() []string {
	return append([]string(nil), t.order...)
}

// Empty reports whether no host has any recorded counter.
func (t *OutcomeTable) Empty() bool {
	for _, h := range t.hosts {
		if !h.IsZero() {
			return false
		}
	}
	return true
}

// HasFailures reports whether any host recorded a failure.
func (t *OutcomeTable) HasFailures() bool {
	for _, h := range t.hosts {
		if h.Failures > 0 {
			return true
		}
	}
	return false
}

// StatsEventData flattens the table into the playbook_on_stats payload:
// one host-to-count map per counter.
func (t *OutcomeTable) StatsEventData() map[string]interface{} {
	ok := map[string]int{}
	changed := map[string]int{}
	failures := map[string]int{}
	skipped := map[string]int{}
	rescued := map[string]int{}
	ignored := map[string]int{}
	processed := map[string]int{}

	for _, host := range t.order {
		h := t.hosts[host]
		if h.IsZero() {
			continue
		}
		processed[host] = 1
		if h.OK > 0 {
			ok[host] = h.OK
		}
		if h.Changed > 0 {
			changed[host] = h.Changed
		}
		if h.Failures > 0 {
			failures[host] = h.Failures
		}
		if h.Skipped > 0 {
			skipped[host] = h.Skipped
		}
		if h.Rescued > 0 {
			rescued[host] = h.Rescued
		}
		if h.Ignored > 0 {
			ignored[host] = h.Ignored
		}
	}

	return map[string]interface{}{
		"ok":        ok,
		"changed":   changed,
		"failures":  failures,
		"skipped":   skipped,
		"rescued":   rescued,
		"ignored":   ignored,
		"dark":      map[string]int{},
		"processed": processed,
	}
}
