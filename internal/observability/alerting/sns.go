package alerting

import (
	"context"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"

	xerrors "github.com/meaningfill/class-sub000/internal/errors"
	"github.com/meaningfill/class-sub000/pkg/logger"
)

// SNSPublisher 是 SNS 客户端中用到的子集。
type SNSPublisher interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSConfig 描述 SNS 主题。
type SNSConfig struct {
	Region   string `yaml:"region"`
	TopicARN string `yaml:"topic_arn"`
}

// SNSNotifier 将事件发布到 SNS 主题。
type SNSNotifier struct {
	Publisher SNSPublisher
	TopicARN  string
}

// NewSNSNotifier 使用默认凭证链创建 SNSNotifier。
func NewSNSNotifier(ctx context.Context, cfg SNSConfig) (*SNSNotifier, error) {
	if strings.TrimSpace(cfg.TopicARN) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "SNS topic ARN 不能为空")
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "加载 AWS 配置失败")
	}
	return &SNSNotifier{Publisher: sns.NewFromConfig(awsCfg), TopicARN: cfg.TopicARN}, nil
}

// Channel 返回 SNS 渠道。
func (n *SNSNotifier) Channel() Channel { return ChannelSNS }

// Notify 发布消息，事件类型与会话 ID 作为消息属性。
func (n *SNSNotifier) Notify(ctx context.Context, event Event) error {
	if n == nil || n.Publisher == nil || n.TopicARN == "" {
		logger.L().Warn("SNSNotifier 未正确配置，跳过发送", slog.String("session_id", event.SessionID))
		return nil
	}
	subject := event.Subject()
	// SNS 主题标题上限 100 字符
	if len([]rune(subject)) > 100 {
		subject = string([]rune(subject)[:100])
	}
	_, err := n.Publisher.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(n.TopicARN),
		Subject:  aws.String(subject),
		Message:  aws.String(event.Body()),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"kind":       {DataType: aws.String("String"), StringValue: aws.String(event.Kind)},
			"session_id": {DataType: aws.String("String"), StringValue: aws.String(event.SessionID)},
		},
	})
	if err != nil {
		return xerrors.Wrap(xerrors.CodeBackendFailure, err, "发布 SNS 消息失败")
	}
	return nil
}
