package sandbox

// ByteCost prices a host call as a flat charge plus a per-byte charge over
// some measure of the call's payload (namespace+key+value for writes, the
// returned key and/or value for reads and iteration, input length for
// hashes).
type ByteCost struct {
	Flat    uint64
	PerByte uint64
}

// Cost returns the gas charge for n bytes of payload.
func (c ByteCost) Cost(n int) uint64 {
	return c.Flat + c.PerByte*uint64(n)
}

// GasCosts prices every host call in the ABI, mirroring the cost table a
// guest invocation is charged against as it calls back into the host.
type GasCosts struct {
	DBRead           ByteCost
	DBWrite          ByteCost
	DBRemove         uint64
	DBScan           uint64
	DBNext           uint64
	Debug            uint64
	QueryChain       uint64
	Secp256k1Verify  uint64
	Secp256r1Verify  uint64
	Ed25519Verify    uint64
	Ed25519BatchBase ByteCost // priced per verified message
	PubkeyRecover    uint64
	Sha2_256         ByteCost
	Sha2_512         ByteCost
	Sha3_256         ByteCost
	Sha3_512         ByteCost
	Keccak256        ByteCost
	Blake2s256       ByteCost
	Blake2b512       ByteCost
	Blake3           ByteCost
}

// DefaultGasCosts returns the cost table used by production sandboxes.
// Values are chosen to be proportionate, not calibrated against a specific
// hardware benchmark.
func DefaultGasCosts() GasCosts {
	return GasCosts{
		DBRead:           ByteCost{Flat: 200, PerByte: 1},
		DBWrite:          ByteCost{Flat: 500, PerByte: 3},
		DBRemove:         300,
		DBScan:           100,
		DBNext:           50,
		Debug:            100,
		QueryChain:       200,
		Secp256k1Verify:  3000,
		Secp256r1Verify:  3500,
		Ed25519Verify:    2000,
		Ed25519BatchBase: ByteCost{Flat: 0, PerByte: 1800}, // priced per message, not per byte
		PubkeyRecover:    3500,
		Sha2_256:         ByteCost{Flat: 50, PerByte: 1},
		Sha2_512:         ByteCost{Flat: 75, PerByte: 1},
		Sha3_256:         ByteCost{Flat: 60, PerByte: 1},
		Sha3_512:         ByteCost{Flat: 90, PerByte: 1},
		Keccak256:        ByteCost{Flat: 60, PerByte: 1},
		Blake2s256:       ByteCost{Flat: 40, PerByte: 1},
		Blake2b512:       ByteCost{Flat: 60, PerByte: 1},
		Blake3:           ByteCost{Flat: 30, PerByte: 1},
	}
}
