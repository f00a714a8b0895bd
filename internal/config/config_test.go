package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("写入测试文件失败: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "acp.json", `{
		"agent": {"wallet_address": "0xabc"}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("加载配置失败: %v", err)
	}

	if cfg.Agent.SignerKeyEnv != "ACP_SIGNER_KEY" {
		t.Fatalf("签名私钥环境变量默认值不符: %s", cfg.Agent.SignerKeyEnv)
	}
	if cfg.Chain.Definitions != filepath.Join(dir, "chains.yaml") {
		t.Fatalf("链定义路径默认值不符: %s", cfg.Chain.Definitions)
	}
	if cfg.Chain.Environment != "base-sepolia" {
		t.Fatalf("默认链环境不符: %s", cfg.Chain.Environment)
	}
	if cfg.Relayer.TimeoutSeconds != 15 {
		t.Fatalf("中继超时默认值不符: %d", cfg.Relayer.TimeoutSeconds)
	}
	if cfg.Dispatch.Mode != "socket" || cfg.Dispatch.Workers != 4 {
		t.Fatalf("分发默认值不符: %+v", cfg.Dispatch)
	}
	if cfg.Dispatch.Queue.Driver != "memory" || cfg.Dispatch.Store.Driver != "memory" {
		t.Fatalf("驱动默认值不符: queue=%s store=%s", cfg.Dispatch.Queue.Driver, cfg.Dispatch.Store.Driver)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Fatalf("日志默认值不符: %+v", cfg.Logging)
	}
}

func TestLoadRelativeDefinitionsResolvedAgainstConfigDir(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "acp.json", `{
		"chain": {"definitions": "networks/chains.yaml", "environment": "local"}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("加载配置失败: %v", err)
	}
	want := filepath.Join(dir, "networks", "chains.yaml")
	if cfg.Chain.Definitions != want {
		t.Fatalf("相对路径应基于配置目录解析: %s", cfg.Chain.Definitions)
	}
	if cfg.Chain.Environment != "local" {
		t.Fatalf("显式环境不应被默认值覆盖: %s", cfg.Chain.Environment)
	}
}

func TestLoadRejectsInvalidJSON(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "acp.json", `{"agent": `)

	if _, err := Load(path); err == nil {
		t.Fatal("残缺的 JSON 应当报错")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Fatal("不存在的文件应当报错")
	}
	if _, err := Load(""); err == nil {
		t.Fatal("空路径应当报错")
	}
}

func TestChainDefinitions(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "chains.yaml", `
environments:
  base-sepolia:
    rpc_url: https://sepolia.base.org
    chain_id: 84532
    contract_address: "0xC0xC"
    token_address: "0xT0xT"
    api_url: https://acp-api.example.com
  broken:
    description: 缺少任何接入地址
`)

	defs, err := LoadChainDefinitions(path)
	if err != nil {
		t.Fatalf("解析链配置失败: %v", err)
	}

	env, err := defs.Environment("base-sepolia")
	if err != nil {
		t.Fatalf("读取链环境失败: %v", err)
	}
	if env.ChainID != 84532 {
		t.Fatalf("chain id 不符: %d", env.ChainID)
	}
	if env.APIURL == "" {
		t.Fatal("api_url 丢失")
	}

	if _, err := defs.Environment("broken"); err == nil {
		t.Fatal("缺少 rpc_url 与 api_url 的环境应当报错")
	}
	if _, err := defs.Environment("unknown"); err == nil {
		t.Fatal("未定义的环境应当报错")
	}
}

func TestLoadChainDefinitionsEmptyPath(t *testing.T) {
	defs, err := LoadChainDefinitions("")
	if err != nil {
		t.Fatalf("空路径应当返回空定义: %v", err)
	}
	if len(defs.Environments) != 0 {
		t.Fatalf("期望空环境表, 实际 %d 项", len(defs.Environments))
	}
}
