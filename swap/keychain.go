package swap

var (
	// KeyFamily is the derivation branch wallets derive swap claim and
	// refund keys under.
	KeyFamily = int32(99)
)
