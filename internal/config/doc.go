// Package config provides configuration loading for the agent daemon: a JSON
// config file with sensible defaults plus YAML chain-environment definitions
// mapping environment names to RPC endpoints, contract addresses, and the
// relayer API base URL.
package config
