package account

// DisputeProof is the artifact spec.md §9's supplemented
// ExportDisputeProof operation produces: the last mutually-signed
// proof body plus the signatures collected for it, enough for either
// side to submit a unilateral dispute to jurisdiction.Adapter.
type DisputeProof struct {
	Header     ProofHeader
	Body       ProofBody
	Signatures [][]byte
}

// ExportDisputeProof snapshots the current committed ledger state into
// a signable ProofBody, canonically sorted (spec.md §4.2 proofBody),
// for use when cooperative frame exchange has stalled and a side needs
// to fall back to on-chain dispute resolution.
func (m *Machine) ExportDisputeProof() DisputeProof {
	ids, deltas := tokenSnapshot(m.deltas)
	b := ProofBody{
		TokenIDs: ids,
		Deltas:   deltas,
		Locks:    lockSnapshot(m.locks),
	}
	sigs := make([][]byte, 0, len(m.PendingSignatures))
	for _, s := range m.PendingSignatures {
		sigs = append(sigs, append([]byte(nil), s...))
	}
	return DisputeProof{
		Header:     m.ProofHeader,
		Body:       b,
		Signatures: sigs,
	}
}
