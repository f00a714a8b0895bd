package main

import (
	"testing"

	"AgentCommerce-Chain/internal/config"
)

func TestCheckSourceConfig(t *testing.T) {
	full := config.ChainEnvironment{
		RPCURL: "https://rpc.example",
		WSURL:  "wss://ws.example",
		APIURL: "https://api.example",
	}
	chainOnly := config.ChainEnvironment{RPCURL: "https://rpc.example"}

	cases := []struct {
		name    string
		mode    string
		env     config.ChainEnvironment
		wantErr bool
	}{
		{"默认模式走推送", "", full, false},
		{"推送模式", "socket", full, false},
		{"轮询模式", "poll", full, false},
		{"推送模式缺 ws_url", "socket", chainOnly, true},
		{"轮询模式缺 api_url", "poll", chainOnly, true},
		{"未知模式", "cron", full, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := checkSourceConfig(tc.mode, tc.env)
			if (err != nil) != tc.wantErr {
				t.Fatalf("checkSourceConfig(%q) = %v, 期望出错 %v", tc.mode, err, tc.wantErr)
			}
		})
	}
}
