package feast

import (
	"context"
	"fmt"
	"net"
	"strconv"

	feastsdk "github.com/feast-dev/feast/sdk/go"

	"github.com/rushteam/movierec/pkg/conv"
)

// DefaultPort 是 Feast Serving 的默认 gRPC 端口。
const DefaultPort = 6565

// Config 是 Feast 连接与特征映射配置。
type Config struct {
	Enabled  bool        `koanf:"enabled" yaml:"enabled"`
	Endpoint string      `koanf:"endpoint" yaml:"endpoint"` // host:port
	Project  string      `koanf:"project" yaml:"project"`
	Token    string      `koanf:"token" yaml:"token"`
	TLS      bool        `koanf:"tls" yaml:"tls"`
	Refs     FeatureRefs `koanf:"refs" yaml:"refs"`
}

// GrpcClient 基于官方 Feast Go SDK 实现 Client。
type GrpcClient struct {
	client  *feastsdk.GrpcClient
	Project string
}

// NewGrpcClient 创建 gRPC 客户端；配置了 Token 或 TLS 时使用安全连接。
func NewGrpcClient(cfg Config) (*GrpcClient, error) {
	host, port, err := ParseEndpoint(cfg.Endpoint)
	if err != nil {
		return nil, err
	}

	var client *feastsdk.GrpcClient
	if cfg.Token != "" || cfg.TLS {
		security := feastsdk.SecurityConfig{EnableTLS: cfg.TLS}
		if cfg.Token != "" {
			security.Credential = feastsdk.NewStaticCredential(cfg.Token)
		}
		client, err = feastsdk.NewSecureGrpcClient(host, port, security)
	} else {
		client, err = feastsdk.NewGrpcClient(host, port)
	}
	if err != nil {
		return nil, fmt.Errorf("feast: connect %s:%d: %w", host, port, err)
	}
	return &GrpcClient{client: client, Project: cfg.Project}, nil
}

// ParseEndpoint 解析 "host:port"，缺省端口为 DefaultPort。
func ParseEndpoint(endpoint string) (string, int, error) {
	if endpoint == "" {
		return "", 0, fmt.Errorf("feast: empty endpoint")
	}
	host, portStr, err := net.SplitHostPort(endpoint)
	if err != nil {
		// 没有端口
		return endpoint, DefaultPort, nil
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 {
		return "", 0, fmt.Errorf("feast: invalid port in %q", endpoint)
	}
	return host, port, nil
}

func (c *GrpcClient) GetOnlineFeatures(ctx context.Context, req *OnlineRequest) ([]map[string]float64, error) {
	if len(req.Features) == 0 {
		return nil, ErrNoFeatures
	}
	if len(req.IDs) == 0 {
		return []map[string]float64{}, nil
	}
	project := req.Project
	if project == "" {
		project = c.Project
	}
	if project == "" {
		return nil, ErrNoProject
	}

	entities := make([]feastsdk.Row, len(req.IDs))
	for i, id := range req.IDs {
		entities[i] = feastsdk.Row{req.Entity: feastsdk.Int64Val(id)}
	}
	resp, err := c.client.GetOnlineFeatures(ctx, &feastsdk.OnlineFeaturesRequest{
		Features: req.Features,
		Entities: entities,
		Project:  project,
	})
	if err != nil {
		return nil, fmt.Errorf("feast: get online features: %w", err)
	}

	rows := resp.Rows()
	if len(rows) != len(req.IDs) {
		return nil, fmt.Errorf("feast: response row count mismatch: expected %d, got %d", len(req.IDs), len(rows))
	}
	out := make([]map[string]float64, len(rows))
	for i, row := range rows {
		values := make(map[string]float64, len(req.Features))
		for _, name := range req.Features {
			if v, ok := numeric(row[name]); ok {
				values[name] = v
			}
		}
		out[i] = values
	}
	return out, nil
}

// Close 释放客户端；SDK 的连接由 gRPC 管理。
func (c *GrpcClient) Close() error {
	c.client = nil
	return nil
}

// protoValue 是 Feast types.Value 的 oneof getter。未设置的分支返回零值，
// 所以数值等于各分支之和；String() 为空说明整个 oneof 未设置。
type protoValue interface {
	String() string
	GetDoubleVal() float64
	GetFloatVal() float32
	GetInt64Val() int64
	GetInt32Val() int32
	GetBoolVal() bool
}

func numeric(v any) (float64, bool) {
	if f, ok := conv.ToFloat64(v); ok {
		return f, true
	}
	pv, ok := v.(protoValue)
	if !ok || pv.String() == "" {
		return 0, false
	}
	f := pv.GetDoubleVal() + float64(pv.GetFloatVal()) + float64(pv.GetInt64Val()) + float64(pv.GetInt32Val())
	if pv.GetBoolVal() {
		f++
	}
	return f, true
}

var _ Client = (*GrpcClient)(nil)
