package delivery

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
)

// MaxSMSLength is the longest body SNS accepts for a single SMS.
const MaxSMSLength = 1600

// SNSService is the part of the SNS client the SMS and push transports use.
type SNSService interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// TrimSMS cuts text to MaxSMSLength runes.
func TrimSMS(text string) string {
	r := []rune(text)
	if len(r) <= MaxSMSLength {
		return text
	}
	return string(r[:MaxSMSLength])
}

type SNSSMSSender struct {
	client   SNSService
	senderID string
	smsType  string
}

func NewSNSSMSSender(client SNSService, senderID, smsType string) *SNSSMSSender {
	if smsType == "" {
		smsType = "Transactional"
	}
	return &SNSSMSSender{client: client, senderID: senderID, smsType: smsType}
}

func (s *SNSSMSSender) Send(ctx context.Context, msg Message) (Receipt, error) {
	attrs := map[string]types.MessageAttributeValue{
		"AWS.SNS.SMS.SMSType": {DataType: aws.String("String"), StringValue: aws.String(s.smsType)},
	}
	if s.senderID != "" {
		attrs["AWS.SNS.SMS.SenderID"] = types.MessageAttributeValue{DataType: aws.String("String"), StringValue: aws.String(s.senderID)}
	}

	out, err := s.client.Publish(ctx, &sns.PublishInput{
		PhoneNumber:       aws.String(msg.To),
		Message:           aws.String(TrimSMS(msg.Body)),
		MessageAttributes: attrs,
	})
	if err != nil {
		return Receipt{}, err
	}
	return Receipt{Provider: "sns", MessageID: aws.ToString(out.MessageId)}, nil
}
