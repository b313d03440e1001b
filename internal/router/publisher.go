package router

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/sqs"
	"github.com/op/go-logging"
)

// SQSPublisher is the only shipped EventPublisher: it forwards presence
// transitions to an SQS queue named from the server's own identity.
// Disabled by default; no core invariant depends on it succeeding.
type SQSPublisher struct {
	client   *sqs.SQS
	queueURL string
	timeout  time.Duration
	log      *logging.Logger
}

// QueueName builds the queue name from a fixed prefix plus the server's
// own identity.
func QueueName(serverID string) string {
	return "msnp-presence-" + serverID
}

// NewSQSPublisher resolves queueURL for QueueName(serverID) in region and
// returns a ready publisher, or an error if the queue cannot be resolved
// at startup (the caller should treat this as "leave the publisher
// disabled", not fatal).
func NewSQSPublisher(region, serverID string, log *logging.Logger) (*SQSPublisher, error) {
	sess, err := session.NewSession(&aws.Config{Region: aws.String(region)})
	if err != nil {
		return nil, fmt.Errorf("building aws session: %w", err)
	}
	client := sqs.New(sess)
	name := QueueName(serverID)
	out, err := client.GetQueueUrl(&sqs.GetQueueUrlInput{QueueName: aws.String(name)})
	if err != nil {
		return nil, fmt.Errorf("resolving queue %s: %w", name, err)
	}
	return &SQSPublisher{
		client:   client,
		queueURL: *out.QueueUrl,
		timeout:  2 * time.Second,
		log:      log,
	}, nil
}

func (p *SQSPublisher) Publish(identity, state string, ts time.Time) {
	body := fmt.Sprintf(`{"identity":%q,"state":%q,"ts":%q}`, identity, state, ts.Format(time.RFC3339))
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	_, err := p.client.SendMessageWithContext(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(body),
	})
	if err != nil {
		p.log.Debug("sqs publish failed for", identity, ":", err)
	}
}
