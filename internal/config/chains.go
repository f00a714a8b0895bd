package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ChainDefinitions 对应 chains.yaml 的结构，按环境名组织链参数。
type ChainDefinitions struct {
	Environments map[string]ChainEnvironment `yaml:"environments"`
}

// ChainEnvironment 描述一个链环境的全部接入参数。
type ChainEnvironment struct {
	RPCURL          string `yaml:"rpc_url"`
	WSURL           string `yaml:"ws_url"`
	ChainID         int64  `yaml:"chain_id"`
	ContractAddress string `yaml:"contract_address"`
	TokenAddress    string `yaml:"token_address"`
	APIURL          string `yaml:"api_url"`
	Description     string `yaml:"description"`
}

// LoadChainDefinitions 解析链环境定义文件。
func LoadChainDefinitions(path string) (ChainDefinitions, error) {
	if strings.TrimSpace(path) == "" {
		return ChainDefinitions{Environments: map[string]ChainEnvironment{}}, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return ChainDefinitions{}, fmt.Errorf("读取链配置失败: %w", err)
	}

	var defs ChainDefinitions
	if err := yaml.Unmarshal(content, &defs); err != nil {
		return ChainDefinitions{}, fmt.Errorf("解析链配置失败: %w", err)
	}
	if defs.Environments == nil {
		defs.Environments = map[string]ChainEnvironment{}
	}
	return defs, nil
}

// Environment 返回指定名称的链环境。
func (d ChainDefinitions) Environment(name string) (ChainEnvironment, error) {
	env, ok := d.Environments[name]
	if !ok {
		return ChainEnvironment{}, fmt.Errorf("未定义的链环境: %s", name)
	}
	if strings.TrimSpace(env.RPCURL) == "" && strings.TrimSpace(env.APIURL) == "" {
		return ChainEnvironment{}, fmt.Errorf("链环境 %s 缺少 rpc_url 或 api_url", name)
	}
	return env, nil
}
