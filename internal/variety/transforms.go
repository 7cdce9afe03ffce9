package variety

import "sort"

// AttenuationTransform implements s1->s2: sample the n highest-entropy
// (here: highest-volume, as a proxy for entropy) items and report their
// patterns rather than forwarding every raw item.
func AttenuationTransform(n int) Transform {
	return func(in []Packet) []Packet {
		sorted := append([]Packet(nil), in...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].Volume > sorted[j].Volume })
		if len(sorted) > n {
			sorted = sorted[:n]
		}
		out := make([]Packet, len(sorted))
		for i, p := range sorted {
			out[i] = Packet{Type: Coordinated, Volume: p.Volume, Patterns: p.Patterns, Payload: p.Payload, Timestamp: p.Timestamp}
		}
		return out
	}
}

// AggregationTransform implements s2->s3: collapse a batch into a single
// summary packet, dropping raw operational detail.
func AggregationTransform() Transform {
	return func(in []Packet) []Packet {
		if len(in) == 0 {
			return nil
		}
		total := 0
		var patterns []string
		for _, p := range in {
			total += p.Volume
			patterns = append(patterns, p.Patterns...)
		}
		return []Packet{{Type: Audit, Volume: total, Patterns: dedupe(patterns), Timestamp: in[len(in)-1].Timestamp}}
	}
}

// AuditSynthesisTransform implements s3->s4: forward decisions paired with
// their observed outcomes, unchanged in count but retagged as audit entries
// for S4's learning loop.
func AuditSynthesisTransform() Transform {
	return func(in []Packet) []Packet {
		out := make([]Packet, len(in))
		for i, p := range in {
			out[i] = Packet{Type: Audit, Volume: p.Volume, Patterns: p.Patterns, Payload: p.Payload, Timestamp: p.Timestamp}
		}
		return out
	}
}

// IntelligenceDistillationTransform implements s4->s5: collapse a batch of
// scenario/anomaly packets into a single intelligence report packet.
func IntelligenceDistillationTransform() Transform {
	return func(in []Packet) []Packet {
		if len(in) == 0 {
			return nil
		}
		var patterns []string
		for _, p := range in {
			patterns = append(patterns, p.Patterns...)
		}
		return []Packet{{Type: Intelligence, Volume: len(in), Patterns: dedupe(patterns), Timestamp: in[len(in)-1].Timestamp}}
	}
}

// AmplificationTransform implements s3->s1: broadcast a control command to
// every unit named in targets (the caller supplies the current roster).
func AmplificationTransform(targets []string) Transform {
	return func(in []Packet) []Packet {
		var out []Packet
		for _, p := range in {
			for range targets {
				out = append(out, Packet{Type: Control, Volume: p.Volume, Payload: p.Payload, Timestamp: p.Timestamp})
			}
		}
		return out
	}
}

// ConstraintFanOutTransform implements s5->all: forward policy constraints
// to every subsystem unchanged.
func ConstraintFanOutTransform() Transform {
	return func(in []Packet) []Packet {
		out := make([]Packet, len(in))
		for i, p := range in {
			out[i] = Packet{Type: Policy, Volume: p.Volume, Payload: p.Payload, Timestamp: p.Timestamp}
		}
		return out
	}
}

func dedupe(ss []string) []string {
	seen := make(map[string]bool, len(ss))
	var out []string
	for _, s := range ss {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
