// Package directory 封装代理目录：检索可合作的代理，并在发起任务前
// 用服务项声明的需求模式做本地校验，避免把明显不合法的需求发到链上。
package directory

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"context"

	"github.com/google/jsonschema-go/jsonschema"

	xerrors "AgentCommerce-Chain/internal/errors"
	"AgentCommerce-Chain/internal/relayer"
	"AgentCommerce-Chain/pkg/logger"
)

// Agent 是目录中的一个代理条目。
type Agent struct {
	ID            int64
	Name          string
	Description   string
	WalletAddress string
	Offerings     []Offering
}

// Offering 是代理提供的一项服务。RequirementSchema 为空时表示该服务
// 不约束需求格式。
type Offering struct {
	Name              string
	Price             float64
	RequirementSchema json.RawMessage
}

// ValidateRequirement 按服务项声明的 JSON Schema 校验需求载荷。
// 校验在本地完成，失败时直接返回 VALIDATION_FAILED，不发起任何网络请求。
func (o Offering) ValidateRequirement(requirement any) error {
	if len(o.RequirementSchema) == 0 {
		return nil
	}

	var schema jsonschema.Schema
	if err := json.Unmarshal(o.RequirementSchema, &schema); err != nil {
		return xerrors.Wrap(xerrors.CodeValidationFailed, err,
			fmt.Sprintf("服务项 %s 的需求模式不是合法的 JSON Schema", o.Name))
	}
	resolved, err := schema.Resolve(nil)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeValidationFailed, err,
			fmt.Sprintf("服务项 %s 的需求模式无法解析", o.Name))
	}
	if err := resolved.Validate(requirement); err != nil {
		return xerrors.Wrap(xerrors.CodeValidationFailed, err,
			fmt.Sprintf("需求不符合服务项 %s 声明的模式", o.Name))
	}
	return nil
}

// Service 提供目录检索。
type Service struct {
	client *relayer.Client
	log    *slog.Logger
}

// NewService 构造 Service。
func NewService(client *relayer.Client) *Service {
	return &Service{client: client, log: logger.Named("directory")}
}

// Browse 按关键词检索代理，结果不包含调用方自己。cluster 可选。
func (s *Service) Browse(ctx context.Context, keyword, cluster string) ([]Agent, error) {
	records, err := s.client.BrowseAgents(ctx, keyword, cluster)
	if err != nil {
		return nil, err
	}

	agents := make([]Agent, 0, len(records))
	for _, record := range records {
		agent := Agent{
			ID:            record.ID,
			Name:          record.Name,
			Description:   record.Description,
			WalletAddress: record.WalletAddress,
		}
		for _, offering := range record.Offerings {
			agent.Offerings = append(agent.Offerings, Offering{
				Name:              offering.Name,
				Price:             offering.Price,
				RequirementSchema: offering.RequirementSchema,
			})
		}
		agents = append(agents, agent)
	}

	s.log.Debug("目录检索完成",
		slog.String("keyword", keyword),
		slog.Int("count", len(agents)),
	)
	return agents, nil
}
