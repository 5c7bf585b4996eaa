package config

import (
	"errors"
	"os"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"
)

const DefaultDefiLlamaYieldsURL = "https://yields.llama.fi/pools"

// SubgraphEndpoint is a Messari-schema lending subgraph for one protocol deployment.
type SubgraphEndpoint struct {
	Protocol string
	Chain    string
	URL      string
}

// ChainEndpoint is the JSON-RPC endpoint and USDC contract for one EVM chain.
type ChainEndpoint struct {
	Chain        string
	RPCURL       string
	USDCContract common.Address
}

// Endpoint configuration loaded from environment variables.
// These are populated at startup by the LoadConfig function.
var (
	// DefiLlamaYieldsURL is the DeFiLlama yields pools endpoint.
	DefiLlamaYieldsURL string
	// SubgraphEndpoints are the lending subgraphs queried alongside DeFiLlama.
	SubgraphEndpoints []SubgraphEndpoint
	// FallbackOpportunitiesFile is a fixture used only when every live source fails.
	FallbackOpportunitiesFile string
	// ChainEndpoints holds one entry per chain with an RPC_URL_<CHAIN> variable set.
	ChainEndpoints []ChainEndpoint
)

// NativeUSDC lists the Circle-issued USDC contract on each supported chain.
var NativeUSDC = map[string]common.Address{
	"ethereum":  common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"),
	"arbitrum":  common.HexToAddress("0xaf88d065e77c8cC2239327C5EDb3A432268e5831"),
	"base":      common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"),
	"polygon":   common.HexToAddress("0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359"),
	"avalanche": common.HexToAddress("0xB97EF9Ef8734C71904D8002F8b6Bc66Dd9c48a6E"),
}

// loadEndpointConfig loads endpoint configuration from environment variables.
// This function is called by LoadConfig() in General.go.
func loadEndpointConfig() error {
	log.Info().Msg("Loading endpoint configuration from environment variables...")

	DefiLlamaYieldsURL = getEnvOrDefault("DEFILLAMA_YIELDS_URL", DefaultDefiLlamaYieldsURL)
	FallbackOpportunitiesFile = getEnvOrDefault("FALLBACK_OPPORTUNITIES_FILE", "")

	var err error
	SubgraphEndpoints, err = ParseSubgraphEndpoints(getEnvOrDefault("SUBGRAPH_ENDPOINTS", ""))
	if err != nil {
		return err
	}

	ChainEndpoints = ChainEndpoints[:0]
	chains := make([]string, 0, len(NativeUSDC))
	for chain := range NativeUSDC {
		chains = append(chains, chain)
	}
	sort.Strings(chains)
	for _, chain := range chains {
		rpcURL := os.Getenv("RPC_URL_" + strings.ToUpper(chain))
		if rpcURL == "" {
			continue
		}
		ChainEndpoints = append(ChainEndpoints, ChainEndpoint{Chain: chain, RPCURL: rpcURL, USDCContract: NativeUSDC[chain]})
	}
	if len(ChainEndpoints) == 0 {
		return errors.New("at least one RPC_URL_<CHAIN> environment variable is required")
	}

	log.Debug().
		Str("DefiLlamaYieldsURL", DefiLlamaYieldsURL).
		Int("SubgraphEndpoints", len(SubgraphEndpoints)).
		Int("ChainEndpoints", len(ChainEndpoints)).
		Msg("Endpoint configuration loaded successfully.")

	return nil
}

// ParseSubgraphEndpoints parses a comma separated list of protocol|chain|url entries.
func ParseSubgraphEndpoints(raw string) ([]SubgraphEndpoint, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var endpoints []SubgraphEndpoint
	for _, entry := range strings.Split(raw, ",") {
		parts := strings.Split(strings.TrimSpace(entry), "|")
		if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
			return nil, errors.New("SUBGRAPH_ENDPOINTS entry must be protocol|chain|url, got: " + entry)
		}
		endpoints = append(endpoints, SubgraphEndpoint{
			Protocol: strings.ToLower(parts[0]),
			Chain:    strings.ToLower(parts[1]),
			URL:      parts[2],
		})
	}
	return endpoints, nil
}
