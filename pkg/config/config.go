package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"k8s.io/apimachinery/pkg/util/validation/field"
)

// Environment variable names for bridge server configuration
const (
	EnvBridgePort                = "BRIDGE_PORT"
	EnvBridgeTransport           = "BRIDGE_TRANSPORT"
	EnvBridgeNATSURL             = "BRIDGE_NATS_URL"
	EnvBridgeNATSInboundSubject  = "BRIDGE_NATS_INBOUND_SUBJECT"
	EnvBridgeNATSOutboundSubject = "BRIDGE_NATS_OUTBOUND_SUBJECT"
	EnvBridgeAllowedOrigins      = "BRIDGE_ALLOWED_ORIGINS"
	EnvBridgeMaxMessageAge       = "BRIDGE_MAX_MESSAGE_AGE"
	EnvBridgeFailurePolicy       = "BRIDGE_FAILURE_POLICY"
	EnvBridgeSharedSecret        = "BRIDGE_SHARED_SECRET"
	EnvBridgeLedgerBackend       = "BRIDGE_LEDGER_BACKEND"
	EnvBridgeLedgerRetention     = "BRIDGE_LEDGER_RETENTION"
	EnvBridgeRedisAddress        = "BRIDGE_REDIS_ADDRESS"
	EnvBridgeRedisPassword       = "BRIDGE_REDIS_PASSWORD"
	EnvBridgeRedisDB             = "BRIDGE_REDIS_DB"
	EnvBridgeRateLimit           = "BRIDGE_RATE_LIMIT"
	EnvBridgeRateBurst           = "BRIDGE_RATE_BURST"
	EnvBridgeRPCURL              = "BRIDGE_RPC_URL"
	EnvBridgeChainID             = "BRIDGE_CHAIN_ID"
	EnvBridgeNetworks            = "BRIDGE_NETWORKS"
	EnvBridgePrivateKey          = "BRIDGE_PRIVATE_KEY"
	EnvBridgeKMSKeyID            = "BRIDGE_KMS_KEY_ID"
	EnvBridgeAWSRegion           = "BRIDGE_AWS_REGION"
	EnvBridgeVerbose             = "BRIDGE_VERBOSE"
)

type TransportType string

const (
	TransportWebsocket TransportType = "websocket"
	TransportNATS      TransportType = "nats"
)

type LedgerBackend string

const (
	LedgerBackendMemory LedgerBackend = "memory"
	LedgerBackendBadger LedgerBackend = "badger"
	LedgerBackendRedis  LedgerBackend = "redis"
)

// Failure policies accepted by the bridge
var SupportedFailurePolicies = []string{"silent", "signed-error"}

type ChainId uint

const (
	ChainId_EthereumMainnet ChainId = 1
	ChainId_EthereumSepolia ChainId = 11155111
	ChainId_EthereumAnvil   ChainId = 31337
	ChainId_BaseMainnet     ChainId = 8453
	ChainId_BaseSepolia     ChainId = 84532
)

type ChainName string

const (
	ChainName_EthereumMainnet ChainName = "mainnet"
	ChainName_EthereumSepolia ChainName = "sepolia"
	ChainName_EthereumAnvil   ChainName = "devnet"
	ChainName_BaseMainnet     ChainName = "base"
	ChainName_BaseSepolia     ChainName = "base-sepolia"
)

var ChainIdToName = map[ChainId]ChainName{
	ChainId_EthereumMainnet: ChainName_EthereumMainnet,
	ChainId_EthereumSepolia: ChainName_EthereumSepolia,
	ChainId_EthereumAnvil:   ChainName_EthereumAnvil,
	ChainId_BaseMainnet:     ChainName_BaseMainnet,
	ChainId_BaseSepolia:     ChainName_BaseSepolia,
}
var ChainNameToId = map[ChainName]ChainId{
	ChainName_EthereumMainnet: ChainId_EthereumMainnet,
	ChainName_EthereumSepolia: ChainId_EthereumSepolia,
	ChainName_EthereumAnvil:   ChainId_EthereumAnvil,
	ChainName_BaseMainnet:     ChainId_BaseMainnet,
	ChainName_BaseSepolia:     ChainId_BaseSepolia,
}

// IsEthereum reports whether chainId is an Ethereum L1 network (or a local fork of one)
func IsEthereum(chainId ChainId) bool {
	switch chainId {
	case ChainId_EthereumMainnet, ChainId_EthereumSepolia, ChainId_EthereumAnvil:
		return true
	default:
		return false
	}
}

// ChainNameFor returns the well known name of chainId, or its decimal form
func ChainNameFor(chainId ChainId) ChainName {
	if name, ok := ChainIdToName[chainId]; ok {
		return name
	}
	return ChainName(strconv.FormatUint(uint64(chainId), 10))
}

// Network is an RPC endpoint the wallet can switch to
type Network struct {
	ChainID ChainId   `json:"chain_id"`
	Name    ChainName `json:"name"`
	RpcUrl  string    `json:"rpc_url"`
}

// ParseNetworks parses a comma separated list of chainId=rpcUrl pairs
func ParseNetworks(s string) ([]*Network, error) {
	var networks []*Network
	for _, entry := range strings.Split(s, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		idStr, rpcUrl, ok := strings.Cut(entry, "=")
		if !ok || rpcUrl == "" {
			return nil, fmt.Errorf("invalid network %q, expected chainId=rpcUrl", entry)
		}
		id, err := strconv.ParseUint(strings.TrimSpace(idStr), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid chain id in network %q: %w", entry, err)
		}
		networks = append(networks, &Network{
			ChainID: ChainId(id),
			Name:    ChainNameFor(ChainId(id)),
			RpcUrl:  strings.TrimSpace(rpcUrl),
		})
	}
	return networks, nil
}

// BridgeServerConfig represents the complete configuration for a bridge server
type BridgeServerConfig struct {
	Port      int           `json:"port"`
	Transport TransportType `json:"transport"`

	// NATS transport
	NATSURL             string `json:"nats_url"`
	NATSInboundSubject  string `json:"nats_inbound_subject"`
	NATSOutboundSubject string `json:"nats_outbound_subject"`

	// Websocket origins allowed to open a channel; empty allows same-origin only
	AllowedOrigins []string `json:"allowed_origins"`

	// Authentication
	MaxMessageAge time.Duration `json:"max_message_age"`
	FailurePolicy string        `json:"failure_policy"`
	SharedSecret  string        `json:"-"`

	// Nonce ledger
	LedgerBackend   LedgerBackend `json:"ledger_backend"`
	LedgerRetention time.Duration `json:"ledger_retention"`
	RedisAddress    string        `json:"redis_address"`
	RedisPassword   string        `json:"-"`
	RedisDB         int           `json:"redis_db"`

	// Inbound messages per second per session; zero disables limiting
	RateLimit float64 `json:"rate_limit"`
	RateBurst int     `json:"rate_burst"`

	// Wallet
	RpcUrl    string     `json:"rpc_url"`
	ChainID   ChainId    `json:"chain_id"`
	ChainName ChainName  `json:"chain_name"`
	Networks  []*Network `json:"networks"`

	// Key custody: exactly one of PrivateKey and KMSKeyID
	PrivateKey string `json:"-"`
	KMSKeyID   string `json:"kms_key_id"`
	AWSRegion  string `json:"aws_region"`

	Debug   bool `json:"debug"`
	Verbose bool `json:"verbose"`
}

// Validate validates the bridge server configuration and fills derived fields
func (c *BridgeServerConfig) Validate() error {
	var allErrors field.ErrorList

	switch c.Transport {
	case TransportWebsocket:
		if c.Port < 1 || c.Port > 65535 {
			allErrors = append(allErrors, field.Invalid(field.NewPath("port"), c.Port, "must be between 1-65535"))
		}
	case TransportNATS:
		if c.NATSURL == "" {
			allErrors = append(allErrors, field.Required(field.NewPath("natsUrl"), "natsUrl is required for the nats transport"))
		}
		if c.NATSInboundSubject == "" {
			allErrors = append(allErrors, field.Required(field.NewPath("natsInboundSubject"), "natsInboundSubject is required for the nats transport"))
		}
		if c.NATSOutboundSubject == "" {
			allErrors = append(allErrors, field.Required(field.NewPath("natsOutboundSubject"), "natsOutboundSubject is required for the nats transport"))
		}
	default:
		allErrors = append(allErrors, field.NotSupported(field.NewPath("transport"), c.Transport, []TransportType{TransportWebsocket, TransportNATS}))
	}

	if c.MaxMessageAge < 0 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("maxMessageAge"), c.MaxMessageAge.String(), "cannot be negative"))
	}
	if c.FailurePolicy != "" && !contains(SupportedFailurePolicies, c.FailurePolicy) {
		allErrors = append(allErrors, field.NotSupported(field.NewPath("failurePolicy"), c.FailurePolicy, SupportedFailurePolicies))
	}

	switch c.LedgerBackend {
	case LedgerBackendMemory, LedgerBackendBadger:
	case LedgerBackendRedis:
		if c.RedisAddress == "" {
			allErrors = append(allErrors, field.Required(field.NewPath("redisAddress"), "redisAddress is required for the redis ledger"))
		}
	default:
		allErrors = append(allErrors, field.NotSupported(field.NewPath("ledgerBackend"), c.LedgerBackend,
			[]LedgerBackend{LedgerBackendMemory, LedgerBackendBadger, LedgerBackendRedis}))
	}

	if c.RateLimit < 0 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("rateLimit"), c.RateLimit, "cannot be negative"))
	}
	if c.RateLimit > 0 && c.RateBurst < 1 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("rateBurst"), c.RateBurst, "must be at least 1 when rate limiting"))
	}

	if c.RpcUrl == "" {
		allErrors = append(allErrors, field.Required(field.NewPath("rpcUrl"), "rpcUrl is required"))
	}
	if c.ChainID == 0 {
		allErrors = append(allErrors, field.Required(field.NewPath("chainId"), "chainId is required"))
	}
	for i, n := range c.Networks {
		if n.ChainID == 0 || n.RpcUrl == "" {
			allErrors = append(allErrors, field.Invalid(field.NewPath("networks").Index(i), n, "chainId and rpcUrl are required"))
		}
	}

	switch {
	case c.PrivateKey == "" && c.KMSKeyID == "":
		allErrors = append(allErrors, field.Required(field.NewPath("privateKey"), "one of privateKey or kmsKeyId is required"))
	case c.PrivateKey != "" && c.KMSKeyID != "":
		allErrors = append(allErrors, field.Forbidden(field.NewPath("kmsKeyId"), "privateKey and kmsKeyId are mutually exclusive"))
	case c.PrivateKey != "":
		key := c.PrivateKey
		if !strings.HasPrefix(key, "0x") {
			key = "0x" + key
		}
		if len(key) != 66 { // 0x + 64 hex chars
			allErrors = append(allErrors, field.Invalid(field.NewPath("privateKey"), "<redacted>",
				fmt.Sprintf("must be 32 bytes (64 hex chars), got %d chars", len(key)-2)))
		}
	}

	if len(allErrors) > 0 {
		return allErrors.ToAggregate()
	}

	c.ChainName = ChainNameFor(c.ChainID)
	return nil
}

// AllNetworks returns the primary network followed by the extra ones
func (c *BridgeServerConfig) AllNetworks() []*Network {
	networks := []*Network{{ChainID: c.ChainID, Name: c.ChainName, RpcUrl: c.RpcUrl}}
	return append(networks, c.Networks...)
}

// BridgeClientConfig configures the requestor side
type BridgeClientConfig struct {
	URL     string        `json:"url"`
	Chain   string        `json:"chain"`
	Timeout time.Duration `json:"timeout"`
}

func (c *BridgeClientConfig) Validate() error {
	var allErrors field.ErrorList
	if c.URL == "" {
		allErrors = append(allErrors, field.Required(field.NewPath("url"), "url is required"))
	}
	if c.Timeout <= 0 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("timeout"), c.Timeout.String(), "must be positive"))
	}
	if len(allErrors) > 0 {
		return allErrors.ToAggregate()
	}
	return nil
}

// IsHexAddress reports whether s is a 0x-prefixed 20 byte address
func IsHexAddress(s string) bool {
	return strings.HasPrefix(s, "0x") && common.IsHexAddress(s)
}

func contains(values []string, v string) bool {
	for _, value := range values {
		if value == v {
			return true
		}
	}
	return false
}
