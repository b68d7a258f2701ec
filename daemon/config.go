package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/ethereum/go-ethereum/common"
	"github.com/lightningnetwork/lnd/lncfg"
	"github.com/swapdhq/swapd/batch"
	"github.com/swapdhq/swapd/chain"
)

var (
	// SwapdDirBase is the default root directory of swapd's data.
	SwapdDirBase = btcutil.AppDataDir("swapd", false)

	defaultNetwork        = "mainnet"
	defaultLogLevel       = "info"
	defaultLogDirname     = "logs"
	defaultLogFilename    = "swapd.log"
	defaultConfigFilename = "swapd.conf"
	defaultLogDir         = filepath.Join(SwapdDirBase, defaultLogDirname)
	defaultConfigFile     = filepath.Join(
		SwapdDirBase, defaultNetwork, defaultConfigFilename,
	)

	defaultMaxLogFiles    = 3
	defaultMaxLogFileSize = 10

	defaultRetryInterval       = time.Minute
	defaultRefundInterval      = 5 * time.Minute
	defaultInvoicePollInterval = 10 * time.Second
)

type lndConfig struct {
	Host         string `long:"host" description:"lnd instance rpc address"`
	MacaroonPath string `long:"macaroonpath" description:"Path to lnd macaroon"`
	TLSPath      string `long:"tlspath" description:"Path to lnd tls certificate"`
}

type bitcoinConfig struct {
	Host            string        `long:"host" description:"bitcoind RPC address host:port, empty disables the chain"`
	User            string        `long:"user" description:"bitcoind RPC user"`
	Password        string        `long:"password" description:"bitcoind RPC password"`
	SwapKeyPath     string        `long:"swapkeypath" description:"Path to the extended private key swap keys are derived from"`
	PollInterval    time.Duration `long:"pollinterval" description:"Interval between chain polls"`
	FallbackFeeRate uint64        `long:"fallbackfeerate" description:"Fee rate in sat/vB used when the node has no estimate"`
	ZeroConfLimit   uint64        `long:"zeroconflimit" description:"Maximum amount in satoshis accepted on zero conf"`
}

type ethereumConfig struct {
	RPCURL     string   `long:"rpcurl" description:"Ethereum node websocket RPC url, empty disables the chain"`
	KeyPath    string   `long:"keypath" description:"Path to the hex encoded private key transactions are signed with"`
	EtherSwap  string   `long:"etherswap" description:"Address of the EtherSwap contract"`
	ERC20Swap  string   `long:"erc20swap" description:"Address of the ERC20Swap contract, empty disables tokens"`
	ConfTarget uint64   `long:"conftarget" description:"Confirmations our own lockups need before they count as confirmed"`
	Tokens     []string `long:"token" description:"ERC20 token as SYMBOL:contract address, can be specified multiple times"`
}

// Config holds the command line and ini file configuration of the daemon.
type Config struct {
	ShowVersion bool   `long:"version" description:"Display version information and exit"`
	Network     string `long:"network" description:"network to run on" choice:"regtest" choice:"testnet" choice:"mainnet" choice:"simnet" choice:"signet"`

	SwapdDir       string `long:"swapddir" description:"The directory for all of swapd's data."`
	ConfigFile     string `long:"configfile" description:"Path to configuration file."`
	DataDir        string `long:"datadir" description:"Directory for the swap database."`
	LogDir         string `long:"logdir" description:"Directory to log output."`
	MaxLogFiles    int    `long:"maxlogfiles" description:"Maximum logfiles to keep (0 for no rotation)"`
	MaxLogFileSize int    `long:"maxlogfilesize" description:"Maximum logfile size in MB"`
	DebugLevel     string `long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} -- You may also specify <subsystem>=<level>,<subsystem2>=<level>,... to set the log level for individual subsystems -- Use show to list available subsystems"`

	RetryInterval       time.Duration `long:"retryinterval" description:"Interval between settle retry rounds"`
	RefundInterval      time.Duration `long:"refundinterval" description:"Interval between refund confirmation scans"`
	RefundConfTarget    uint32        `long:"refundconftarget" description:"Confirmations at which a refund counts as final"`
	InvoicePollInterval time.Duration `long:"invoicepollinterval" description:"Interval between hold invoice polls and expiry scans"`
	CallTimeout         time.Duration `long:"calltimeout" description:"Timeout of individual lightning node calls"`
	PaymentTimeout      time.Duration `long:"paymenttimeout" description:"Timeout of a single invoice payment attempt"`
	MaxRoutingFeeBase   uint64        `long:"maxroutingfeebase" description:"Base routing fee limit in satoshis for paying invoices"`
	MaxRoutingFeeRate   int64         `long:"maxroutingfeeppm" description:"Proportional routing fee limit in parts per million for paying invoices"`
	MaxPendingTasks     int           `long:"maxpendingtasks" description:"Capacity of each swap kind's task queue"`

	BatchSymbols  []string      `long:"batchsymbol" description:"Chain on which cooperative claims are batched, can be specified multiple times"`
	BatchInterval time.Duration `long:"batchinterval" description:"Interval between batched claim sweeps"`
	MaxBatchSize  int           `long:"maxbatchsize" description:"Queued claims at which a batch is swept early"`

	Lnd      *lndConfig      `group:"lnd" namespace:"lnd"`
	Bitcoin  *bitcoinConfig  `group:"bitcoin" namespace:"bitcoin"`
	Ethereum *ethereumConfig `group:"ethereum" namespace:"ethereum"`
}

// DefaultConfig returns all default values for the Config struct.
func DefaultConfig() Config {
	return Config{
		Network:             defaultNetwork,
		SwapdDir:            SwapdDirBase,
		ConfigFile:          defaultConfigFile,
		DataDir:             SwapdDirBase,
		LogDir:              defaultLogDir,
		MaxLogFiles:         defaultMaxLogFiles,
		MaxLogFileSize:      defaultMaxLogFileSize,
		DebugLevel:          defaultLogLevel,
		RetryInterval:       defaultRetryInterval,
		RefundInterval:      defaultRefundInterval,
		InvoicePollInterval: defaultInvoicePollInterval,
		BatchInterval:       batch.DefaultFlushInterval,
		MaxBatchSize:        batch.DefaultMaxBatchSize,
		Lnd: &lndConfig{
			Host: "localhost:10009",
		},
		Bitcoin: &bitcoinConfig{
			PollInterval: chain.DefaultPollInterval,
		},
		Ethereum: &ethereumConfig{
			ConfTarget: 1,
		},
	}
}

// Validate cleans up paths in the config provided and validates it.
func Validate(cfg *Config) error {
	// Cleanup any paths before we use them.
	cfg.SwapdDir = lncfg.CleanAndExpandPath(cfg.SwapdDir)
	cfg.DataDir = lncfg.CleanAndExpandPath(cfg.DataDir)
	cfg.LogDir = lncfg.CleanAndExpandPath(cfg.LogDir)

	// Since our swapd directory overrides our log/data dir values, make
	// sure that they are not set when swapd dir is set. We fail hard here
	// rather than overwriting and potentially confusing the user.
	logDirSet := cfg.LogDir != defaultLogDir
	dataDirSet := cfg.DataDir != SwapdDirBase
	swapdDirSet := cfg.SwapdDir != SwapdDirBase

	if swapdDirSet {
		if logDirSet {
			return fmt.Errorf("swapddir overwrites logdir, " +
				"please only set one value")
		}

		if dataDirSet {
			return fmt.Errorf("swapddir overwrites datadir, " +
				"please only set one value")
		}

		// Once we are satisfied that neither config value was set, we
		// replace them with our swapd dir.
		cfg.DataDir = cfg.SwapdDir
		cfg.LogDir = filepath.Join(cfg.SwapdDir, defaultLogDirname)
	}

	// Append the network type to the data and log directory so they are
	// "namespaced" per network.
	cfg.DataDir = filepath.Join(cfg.DataDir, cfg.Network)
	cfg.LogDir = filepath.Join(cfg.LogDir, cfg.Network)

	if cfg.Bitcoin.Host == "" && cfg.Ethereum.RPCURL == "" {
		return fmt.Errorf("no chain backends configured, set " +
			"bitcoin.host or ethereum.rpcurl")
	}

	if cfg.Bitcoin.Host != "" && cfg.Bitcoin.SwapKeyPath == "" {
		return fmt.Errorf("bitcoin.swapkeypath is required to sign " +
			"swap claims and refunds")
	}

	if cfg.Ethereum.RPCURL != "" {
		if !common.IsHexAddress(cfg.Ethereum.EtherSwap) {
			return fmt.Errorf("invalid ethereum.etherswap "+
				"address %q", cfg.Ethereum.EtherSwap)
		}

		if cfg.Ethereum.ERC20Swap != "" &&
			!common.IsHexAddress(cfg.Ethereum.ERC20Swap) {

			return fmt.Errorf("invalid ethereum.erc20swap "+
				"address %q", cfg.Ethereum.ERC20Swap)
		}

		if cfg.Ethereum.KeyPath == "" {
			return fmt.Errorf("ethereum.keypath is required to " +
				"sign contract calls")
		}

		if _, err := parseTokens(cfg.Ethereum.Tokens); err != nil {
			return err
		}
	}

	// If either of these directories do not exist, create them.
	if err := os.MkdirAll(cfg.DataDir, os.ModePerm); err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.LogDir, os.ModePerm); err != nil {
		return err
	}

	return nil
}

// getConfigPath gets our config path based on the values that are set in our
// config.
func getConfigPath(cfg Config, swapdDir string) string {
	// If the config file path provided by the user is set, then we just
	// use this value.
	if cfg.ConfigFile != defaultConfigFile {
		return lncfg.CleanAndExpandPath(cfg.ConfigFile)
	}

	// If the user has set a swapd directory that is different to the
	// default we will use this directory as the location of our config
	// file. We do not namespace by network, because this is a custom dir.
	if swapdDir != SwapdDirBase {
		return filepath.Join(swapdDir, defaultConfigFilename)
	}

	// Otherwise, we will use the default location, namespaced by network.
	return filepath.Join(SwapdDirBase, cfg.Network, defaultConfigFilename)
}

// parseTokens converts SYMBOL:address pairs into a token registry.
func parseTokens(tokens []string) (map[string]common.Address, error) {
	parsed := make(map[string]common.Address, len(tokens))
	for _, token := range tokens {
		symbol, addr, found := strings.Cut(token, ":")
		if !found || symbol == "" {
			return nil, fmt.Errorf("malformed token %q, expected "+
				"SYMBOL:address", token)
		}

		if !common.IsHexAddress(addr) {
			return nil, fmt.Errorf("invalid contract address of "+
				"token %v: %q", symbol, addr)
		}

		symbol = strings.ToUpper(symbol)
		if _, ok := parsed[symbol]; ok {
			return nil, fmt.Errorf("duplicate token %v", symbol)
		}

		parsed[symbol] = common.HexToAddress(addr)
	}

	return parsed, nil
}
