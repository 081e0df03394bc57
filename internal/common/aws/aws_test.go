package aws

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSES struct {
	input *ses.SendEmailInput
	err   error
}

func (f *fakeSES) SendEmail(_ context.Context, in *ses.SendEmailInput, _ ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
	f.input = in
	if f.err != nil {
		return nil, f.err
	}
	return &ses.SendEmailOutput{MessageId: aws.String("ses-1")}, nil
}

type fakeSNS struct {
	input *sns.PublishInput
}

func (f *fakeSNS) Publish(_ context.Context, in *sns.PublishInput, _ ...func(*sns.Options)) (*sns.PublishOutput, error) {
	f.input = in
	return &sns.PublishOutput{MessageId: aws.String("sns-1")}, nil
}

func TestSESClient_SendText(t *testing.T) {
	api := &fakeSES{}
	client := NewSESClientWithAPI(api, "agent@example.com")

	id, err := client.SendText(context.Background(), "ops@example.com", "Booking rejected", "details")
	require.NoError(t, err)
	assert.Equal(t, "ses-1", id)
	assert.Equal(t, "agent@example.com", aws.ToString(api.input.Source))
	assert.Equal(t, []string{"ops@example.com"}, api.input.Destination.ToAddresses)
	assert.Equal(t, "details", aws.ToString(api.input.Message.Body.Text.Data))

	_, err = client.SendText(context.Background(), "", "s", "b")
	assert.Error(t, err)

	api.err = errors.New("throttled")
	_, err = client.SendText(context.Background(), "ops@example.com", "s", "b")
	assert.EqualError(t, err, "throttled")
}

func TestSNSClient_PublishEvent(t *testing.T) {
	api := &fakeSNS{}
	client := NewSNSClientWithAPI(api)

	id, err := client.PublishEvent(context.Background(), "arn:aws:sns:us-east-1:1:escalations", "Escalation", `{"companyId":"acme"}`,
		map[string]string{"companyId": "acme"})
	require.NoError(t, err)
	assert.Equal(t, "sns-1", id)
	assert.Equal(t, "acme", aws.ToString(api.input.MessageAttributes["companyId"].StringValue))
	assert.Equal(t, "Escalation", aws.ToString(api.input.Subject))

	_, err = client.PublishEvent(context.Background(), "", "", "m", nil)
	assert.Error(t, err)
}
