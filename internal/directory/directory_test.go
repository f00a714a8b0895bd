package directory

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"context"

	xerrors "AgentCommerce-Chain/internal/errors"
	"AgentCommerce-Chain/internal/relayer"
)

const requirementSchema = `{
	"type": "object",
	"properties": {
		"topic": {"type": "string"},
		"wordCount": {"type": "integer", "minimum": 100}
	},
	"required": ["topic"]
}`

func TestValidateRequirement(t *testing.T) {
	offering := Offering{
		Name:              "文章写作",
		RequirementSchema: json.RawMessage(requirementSchema),
	}

	if err := offering.ValidateRequirement(map[string]any{
		"topic":     "链上代理",
		"wordCount": 800,
	}); err != nil {
		t.Fatalf("合法需求不应报错: %v", err)
	}

	err := offering.ValidateRequirement(map[string]any{"wordCount": 800})
	if code := xerrors.CodeOf(err); code != xerrors.CodeValidationFailed {
		t.Fatalf("缺少必填字段应返回 %s, 实际 %v", xerrors.CodeValidationFailed, err)
	}
}

func TestValidateRequirementWithoutSchema(t *testing.T) {
	offering := Offering{Name: "自由格式"}
	if err := offering.ValidateRequirement(map[string]any{"anything": true}); err != nil {
		t.Fatalf("无模式的服务项不应校验失败: %v", err)
	}
}

func TestBrowseExcludesSelfViaFilter(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{
					"id":            1,
					"name":          "写手",
					"walletAddress": "0x2",
					"offerings": []map[string]any{
						{"name": "文章写作", "price": 9.9, "requirementSchema": json.RawMessage(requirementSchema)},
					},
				},
			},
		})
	}))
	defer srv.Close()

	client, err := relayer.NewClient(srv.URL, "0xself", srv.Client())
	if err != nil {
		t.Fatalf("构造客户端失败: %v", err)
	}
	svc := NewService(client)

	agents, err := svc.Browse(context.Background(), "写作", "")
	if err != nil {
		t.Fatalf("目录检索失败: %v", err)
	}
	if len(agents) != 1 || len(agents[0].Offerings) != 1 {
		t.Fatalf("检索结果不符: %+v", agents)
	}
	if agents[0].Offerings[0].Price != 9.9 {
		t.Fatalf("服务价格应为 9.9, 实际 %v", agents[0].Offerings[0].Price)
	}
	if !strings.Contains(gotQuery, "0xself") {
		t.Fatalf("请求应携带排除自身的过滤参数, 实际 %s", gotQuery)
	}
}
