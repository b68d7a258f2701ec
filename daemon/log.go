package daemon

import (
	"github.com/btcsuite/btclog/v2"
	"github.com/lightninglabs/lndclient"
	"github.com/lightningnetwork/lnd"
	"github.com/lightningnetwork/lnd/build"
	"github.com/lightningnetwork/lnd/signal"
	"github.com/swapdhq/swapd"
	"github.com/swapdhq/swapd/batch"
	"github.com/swapdhq/swapd/chain"
	"github.com/swapdhq/swapd/evm"
	"github.com/swapdhq/swapd/lightning"
	"github.com/swapdhq/swapd/swapdb"
)

// Subsystem defines the sub system name of this package.
const Subsystem = "SWAPD"

// log is a logger that is initialized with no output filters. This means the
// package will not perform any logging by default until the caller requests
// it.
var log btclog.Logger

func init() {
	UseLogger(build.NewSubLogger(Subsystem, nil))
}

// UseLogger uses a specified Logger to output package logging info.
func UseLogger(logger btclog.Logger) {
	log = logger
}

// SetupLoggers initializes all package-global logger variables.
func SetupLoggers(root *build.SubLoggerManager, intercept signal.Interceptor) {
	genLogger := genSubLogger(root, intercept)

	log = build.NewSubLogger(Subsystem, genLogger)

	lnd.SetSubLogger(root, Subsystem, log)
	lnd.AddSubLogger(root, swapd.Subsystem, intercept, swapd.UseLogger)
	lnd.AddSubLogger(root, swapdb.Subsystem, intercept, swapdb.UseLogger)
	lnd.AddSubLogger(root, chain.Subsystem, intercept, chain.UseLogger)
	lnd.AddSubLogger(root, evm.Subsystem, intercept, evm.UseLogger)
	lnd.AddSubLogger(
		root, lightning.Subsystem, intercept, lightning.UseLogger,
	)
	lnd.AddSubLogger(root, batch.Subsystem, intercept, batch.UseLogger)
	lnd.AddSubLogger(
		root, lndclient.Subsystem, intercept, lndclient.UseLogger,
	)
}

// genSubLogger creates a logger generator for a subsystem that requests
// shutdown through the signal interceptor on critical errors.
func genSubLogger(root *build.SubLoggerManager,
	interceptor signal.Interceptor) func(string) btclog.Logger {

	shutdown := func() {
		if !interceptor.Listening() {
			return
		}

		interceptor.RequestShutdown()
	}

	return func(tag string) btclog.Logger {
		return root.GenSubLogger(tag, shutdown)
	}
}
