package delivery

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"

	commonhttp "notification-pipeline/internal/common/http"
)

type PushPayload struct {
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data"`
}

func NewPushPayload(msg Message) PushPayload {
	title := msg.Subject
	if title == "" {
		title = msg.Trigger
	}
	return PushPayload{
		Title: title,
		Body:  msg.Body,
		Data: map[string]string{
			"notificationId": msg.NotificationID,
			"trigger":        msg.Trigger,
		},
	}
}

// SNSMessage builds the MessageStructure=json document for SNS mobile push.
func (p PushPayload) SNSMessage() (string, error) {
	gcm, err := json.Marshal(map[string]interface{}{
		"notification": map[string]string{"title": p.Title, "body": p.Body},
		"data":         p.Data,
	})
	if err != nil {
		return "", err
	}
	apnsBody := map[string]interface{}{
		"aps": map[string]interface{}{
			"alert": map[string]string{"title": p.Title, "body": p.Body},
		},
	}
	for k, v := range p.Data {
		apnsBody[k] = v
	}
	apns, err := json.Marshal(apnsBody)
	if err != nil {
		return "", err
	}

	doc, err := json.Marshal(map[string]string{
		"default": p.Body,
		"GCM":     string(gcm),
		"APNS":    string(apns),
	})
	if err != nil {
		return "", err
	}
	return string(doc), nil
}

// SNSPushSender publishes to a platform endpoint. The device token stored for
// the user is the endpoint ARN.
type SNSPushSender struct {
	client SNSService
}

func NewSNSPushSender(client SNSService) *SNSPushSender {
	return &SNSPushSender{client: client}
}

func (s *SNSPushSender) Send(ctx context.Context, msg Message) (Receipt, error) {
	doc, err := NewPushPayload(msg).SNSMessage()
	if err != nil {
		return Receipt{}, fmt.Errorf("encode push message: %w", err)
	}
	out, err := s.client.Publish(ctx, &sns.PublishInput{
		TargetArn:        aws.String(msg.To),
		Message:          aws.String(doc),
		MessageStructure: aws.String("json"),
	})
	if err != nil {
		return Receipt{}, err
	}
	return Receipt{Provider: "sns", MessageID: aws.ToString(out.MessageId)}, nil
}

// HTTPPushSender posts push payloads to a gateway service.
type HTTPPushSender struct {
	client *commonhttp.Client
	url    string
	apiKey string
}

func NewHTTPPushSender(client *commonhttp.Client, url, apiKey string) *HTTPPushSender {
	return &HTTPPushSender{client: client, url: url, apiKey: apiKey}
}

type gatewayRequest struct {
	DeviceToken string `json:"device_token"`
	PushPayload
}

func (s *HTTPPushSender) Send(ctx context.Context, msg Message) (Receipt, error) {
	headers := map[string]string{}
	if s.apiKey != "" {
		headers["Authorization"] = "Bearer " + s.apiKey
	}
	resp, err := s.client.PostJSON(ctx, s.url, headers, gatewayRequest{
		DeviceToken: msg.To,
		PushPayload: NewPushPayload(msg),
	})
	if err != nil {
		return Receipt{}, err
	}
	defer resp.Body.Close()

	var body struct {
		ID string `json:"id"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&body)
	return Receipt{Provider: "push-gateway", MessageID: body.ID}, nil
}
